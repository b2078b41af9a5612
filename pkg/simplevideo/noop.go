package simplevideo

import (
	"context"
)

// NoopDistributor is a no-operation implementation of Distributor.
// Useful when no serving host is deployed; records never get a streaming URL.
type NoopDistributor struct{}

// NewNoopDistributor creates a new no-operation distributor
func NewNoopDistributor() Distributor {
	return &NoopDistributor{}
}

// Sync does nothing and returns no result
func (n *NoopDistributor) Sync(ctx context.Context, kind EventKind, target SyncTarget) (*SyncResult, error) {
	return nil, nil
}
