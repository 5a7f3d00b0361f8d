package coordinator

import "context"

// AlgorithmStorePolicy is the one gate point task submission consults for
// algorithm-store-bound rules. The
// algorithm-store's own review/publishing workflow is out of scope; a
// real deployment backs this interface with a client to that store's
// REST API, mirroring the node's own allow-list policy seam in
// pkg/node/policy.go but resolved centrally instead of per-node.
type AlgorithmStorePolicy interface {
	// ImageAllowed reports whether algorithmStoreID's policy permits image.
	ImageAllowed(ctx context.Context, algorithmStoreID, image string) (bool, error)

	// ArgumentCount returns the number of argument slots image declares,
	// or -1 if the store has no opinion (submission then skips the shape
	// check rather than rejecting on missing metadata).
	ArgumentCount(ctx context.Context, algorithmStoreID, image string) (int, error)
}

// AllowAllPolicy is the default AlgorithmStorePolicy: every image is
// permitted and no argument-count check is enforced. Deployments that
// wire a real algorithm-store client replace this with one that actually
// consults the store.
type AllowAllPolicy struct{}

func (AllowAllPolicy) ImageAllowed(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (AllowAllPolicy) ArgumentCount(_ context.Context, _, _ string) (int, error) {
	return -1, nil
}
