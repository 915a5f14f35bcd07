/*
Package config defines broker configuration: the typed accessor used to read
opaque per-port blobs, and the Snapshot that describes a complete set of
ports plus routing.

# Blobs

Ports and routers receive their configuration as a Config. The kernel never
interprets it; adapters read their keys with defaults:

	cfg := spec.Config
	uri := cfg.String("uri", "amqp://localhost")
	timeout := cfg.Duration("publish_timeout", 5*time.Second)
	prefetch := cfg.Int("prefetch", 10)

Duration accepts strings ("30s"), integer seconds and time.Duration values.
Int accepts floats without a fractional part, which is how JSON decodes
numbers.

# Snapshots

A Snapshot is replaced in full, never merged. Snapshot.Validate reports
structural problems as an *InvalidConfigurationError wrapping
ErrInvalidConfiguration, and Snapshot.Diff tells the kernel which ports to
stop, start or restart:

	s, err := config.SnapshotFromFile("broker.yaml")
	if err != nil {
	    return err
	}
	if err := s.Validate(); err != nil {
	    return err
	}
	diff := active.Diff(s)

# Loaders

A Loader hands the kernel a channel of snapshots. Implementations live in
package loader.
*/
package config
