/*
Package ceroute provides a modular CloudEvents router.

# Overview

A Kernel brokers CloudEvents between ports. Input ports bring events in
from some transport; output ports deliver them somewhere else. Which outputs
receive an event is decided by a pluggable Router, and the whole setup
(ports, adapter configuration, routing) comes from a configuration
Snapshot that can be replaced while the kernel runs.

Every event an input hands over is acknowledged back to that input exactly
once. The acknowledgment aggregates the outcome of every delivery the event
caused:
  - ack when every destination acked, or when the event had no destination
  - permanent nack when the event was invalid, unroutable, or any
    destination nacked permanently
  - transient nack otherwise, including timeouts and unavailable outputs

Inputs use that result to ack or requeue with their upstream broker.

# Basic Usage

	ports := port.NewRegistry()
	ports.MustRegister("generator", generator.New, config.DirectionInput)
	ports.MustRegister("printer", printer.New, config.DirectionOutput)

	k := ceroute.New(
	    loader.NewFile("ceroute.yaml", logger),
	    scheduler.NewLocal(scheduler.Config{Logger: logger}),
	    ports,
	    router.DefaultRegistry(),
	    ceroute.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := k.Run(ctx); err != nil {
	    log.Fatal(err)
	}

# Reconfiguration

Each snapshot the loader emits is validated in full before anything is
touched. A valid snapshot is applied by starting added ports, stopping
removed ones, restarting ports whose spec changed and then swapping the
routing table. Ports whose spec is unchanged keep running. An invalid
snapshot is rejected, reported to the loader if it implements
config.RejectionSink, and the previous configuration stays active.

Events are always routed against one complete snapshot. Deliveries already
in flight keep their tickets across a reconfiguration; tickets addressed to
a port that is stopped are nacked as transient.

# Crashes

A port whose unit exits on its own is reported by the scheduler. Its
pending deliveries are nacked and the CrashPolicy decides whether it is
rebuilt and restarted:

	k := ceroute.New(l, s, ports, nil, ceroute.WithCrashPolicy(ceroute.RestartOnCrash(3)))

# Shutdown

Cancelling the context passed to Run stops intake, waits up to the drain
timeout for pending deliveries, fails whatever is left as transient, then
stops inputs before outputs.

# Observability

Enable OpenTelemetry instrumentation with options:

	k := ceroute.New(l, s, ports, nil,
	    ceroute.WithMetrics(true),
	    ceroute.WithTracing(true),
	)

Metrics use the global meter provider and traces the global tracer
provider. Each incoming event gets a span covering its whole batch.
*/
package ceroute
