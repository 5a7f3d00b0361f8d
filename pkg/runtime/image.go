package runtime

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultRegistry = "docker.io"
	defaultTag = "latest"
)

// repoNameRE matches a valid image repository path: lowercase alphanumerics
// and separators (. _ __ -), slash-separated components, each component
// starting and ending with an alphanumeric.
var repoNameRE = regexp.MustCompile(`^[a-z0-9]+((\.|_|__|-+)[a-z0-9]+)*(/[a-z0-9]+((\.|_|__|-+)[a-z0-9]+)*)*$`)

// registryRE matches a valid registry hostname, optionally with a port:
// dot-separated labels, each starting and ending with an alphanumeric and
// containing only alphanumerics and hyphens in between.
var registryRE = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*(:[0-9]+)?$`)

// ErrInvalidRepository is returned when an image reference's repository
// component fails validation.
var ErrInvalidRepository = fmt.Errorf("invalid repository name")

// ParseImageName splits a container image reference into its registry,
// repository name, and tag-or-digest, applying Docker's default registry
// and tag rules:
//
//	parse("harbor2.example.ai/demo/avg@sha256:abcd") = ("harbor2.example.ai", "demo/avg", "sha256:abcd")
//	parse("image") = ("docker.io", "image", "latest")
//	parse("my.reg:5000/nested/image:tag") = ("my.reg:5000", "nested/image", "tag")
func ParseImageName(ref string) (registry, name, tag string, err error) {
	registry = defaultRegistry
	tag = defaultTag
	rest := ref

	// Split off a leading registry component: it must contain a "." or
	// ":" before the first "/", or be literally "localhost".
	if slash := strings.Index(rest, "/"); slash >= 0 {
		candidate := rest[:slash]
		if strings.ContainsAny(candidate, ".:") || candidate == "localhost" {
			if candidate != "localhost" && !registryRE.MatchString(candidate) {
				return "", "", "", fmt.Errorf("%w: invalid registry %q in %q", ErrInvalidRepository, candidate, ref)
			}
			registry = candidate
			rest = rest[slash+1:]
		}
	}

	// Split off a digest ("@sha256:...") first, since it may itself
	// contain a colon that would otherwise be mistaken for a tag
	// separator.
	if at := strings.Index(rest, "@"); at >= 0 {
		name = rest[:at]
		tag = rest[at+1:]
	} else if colon := strings.LastIndex(rest, ":"); colon >= 0 {
		name = rest[:colon]
		tag = rest[colon+1:]
	} else {
		name = rest
	}

	if name == "" || !repoNameRE.MatchString(name) {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidRepository, ref)
	}

	return registry, name, tag, nil
}

// FormatImageName is the inverse of ParseImageName: it reconstructs a
// canonical image reference from its parts. A tag that begins with
// "sha256:" is rendered as a digest ("@sha256:...") rather than a tag
// (":...").
func FormatImageName(registry, name, tag string) string {
	var sb strings.Builder
	if registry != "" && registry != defaultRegistry {
		sb.WriteString(registry)
		sb.WriteString("/")
	}
	sb.WriteString(name)
	if tag != "" {
		if strings.HasPrefix(tag, "sha256:") {
			sb.WriteString("@")
		} else {
			sb.WriteString(":")
		}
		sb.WriteString(tag)
	}
	return sb.String()
}
