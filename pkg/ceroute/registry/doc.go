// Package registry provides a thread-safe name registry used to resolve the
// type names found in broker configuration.
//
// Port adapters and routers are registered once at startup and looked up on
// every reconfiguration:
//
//	r := registry.New[port.Factory]("port type")
//	r.MustRegister("generator", generator.New)
//	factory, err := r.Lookup("generator")
//
// Names are unique. Registering a name twice returns ErrDuplicate, and
// looking up an unknown name returns ErrNotFound wrapped with the name.
package registry
