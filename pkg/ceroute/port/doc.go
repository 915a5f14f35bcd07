// Package port defines the contract between the kernel and transport
// adapters.
//
// Each running port owns the port side of a bounded channel pair. Input
// ports send Incoming events and receive Processed results; output ports
// receive Deliver requests and answer each with exactly one Delivered.
//
// Adapters rarely speak the protocol directly. Inputs use Input to track
// outstanding events:
//
//	in := port.NewInput(ep)
//	go in.Run(ctx)
//	in.Emit(ctx, evt, func(r port.Result) {
//	    if r.Ok() {
//	        msg.Ack()
//	    }
//	})
//
// Outputs hand a delivery function to ServeOutput:
//
//	return port.ServeOutput(ctx, ep, p.publish, port.OutputOptions{Logger: p.logger})
//
// Result is three-valued. Transient failures ask the origin to retry; a
// permanent failure tells it the event can never be handled.
package port
