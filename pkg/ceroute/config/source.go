package config

import "context"

// Loader produces the stream of snapshots the kernel applies. The first
// snapshot received takes the kernel from Initializing to Running; every
// later one triggers a reconfiguration. The stream ends when ctx is done or
// the loader closes the channel.
type Loader interface {
	Snapshots(ctx context.Context) (<-chan *Snapshot, error)
}

// RejectionSink is implemented by loaders that want to hear about snapshots
// the kernel refused to apply.
type RejectionSink interface {
	Rejected(s *Snapshot, err error)
}
