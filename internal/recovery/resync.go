package recovery

import "context"

// Resyncer asks peers for the state a replica missed while it was offline.
// since is the local version after recovery; peers answer with deltas.
//
// The transport behind it lives outside this module.
type Resyncer interface {
	RequestResync(ctx context.Context, topic string, since uint64) error
}

// NoopResyncer is the Resyncer for single-node use.
type NoopResyncer struct{}

func (NoopResyncer) RequestResync(context.Context, string, uint64) error {
	return nil
}

// ResyncFunc adapts a function to Resyncer.
type ResyncFunc func(ctx context.Context, topic string, since uint64) error

func (f ResyncFunc) RequestResync(ctx context.Context, topic string, since uint64) error {
	return f(ctx, topic, since)
}
