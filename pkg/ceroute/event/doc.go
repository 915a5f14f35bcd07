// Package event defines the CloudEvents envelope routed by the broker.
//
// An Event is immutable once created. The kernel clones it for every
// destination so adapters can never observe each other's copies:
//
//	evt := event.New("com.example.order.created", "/orders",
//	    event.WithSubject("order-42"),
//	    event.WithData("application/json", []byte(`{"total":12}`)),
//	    event.WithExtension("tenant", "acme"),
//	)
//
// Events travel between processes in the CloudEvents structured JSON format
// (ContentType). Encoding goes through the CloudEvents Go SDK, so any
// compliant producer or consumer can exchange events with the broker:
//
//	b, err := event.Encode(evt)
//	back, err := event.Decode(b)
//
// The broker does not inspect payloads. Data is carried as raw bytes and
// only its content type decides how it is framed on the wire.
package event
