package runtime

import "testing"

func TestParseImageName(t *testing.T) {
	cases := []struct {
		ref string
		registry string
		name string
		tag string
	}{
		{"harbor2.example.ai/demo/avg@sha256:abcd", "harbor2.example.ai", "demo/avg", "sha256:abcd"},
		{"image", "docker.io", "image", "latest"},
		{"my.reg:5000/nested/image:tag", "my.reg:5000", "nested/image", "tag"},
	}

	for _, tc := range cases {
		registry, name, tag, err := ParseImageName(tc.ref)
		if err != nil {
			t.Fatalf("ParseImageName(%q): unexpected error: %v", tc.ref, err)
		}
		if registry != tc.registry || name != tc.name || tag != tc.tag {
			t.Errorf("ParseImageName(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tc.ref, registry, name, tag, tc.registry, tc.name, tc.tag)
		}
	}
}

func TestParseImageNameInvalidRepository(t *testing.T) {
	_, _, _, err := ParseImageName("-bad.example/image")
	if err == nil {
		t.Fatal("expected an error for an invalid repository name")
	}
}

func TestFormatImageNameRoundTrip(t *testing.T) {
	cases := []struct {
		registry string
		name string
		tag string
	}{
		{"harbor2.example.ai", "demo/avg", "sha256:abcd"},
		{"docker.io", "image", "latest"},
		{"my.reg:5000", "nested/image", "tag"},
	}

	for _, tc := range cases {
		ref := FormatImageName(tc.registry, tc.name, tc.tag)
		registry, name, tag, err := ParseImageName(ref)
		if err != nil {
			t.Fatalf("round trip for %+v: %v", tc, err)
		}
		if registry != tc.registry || name != tc.name || tag != tc.tag {
			t.Errorf("round trip for %+v: got (%q, %q, %q)", tc, registry, name, tag)
		}
	}
}
