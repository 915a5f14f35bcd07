package port

import (
	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
)

// Result is the outcome of processing one event.
type Result int

const (
	// ResultAck means the event was handled.
	ResultAck Result = iota
	// ResultTransientError means the event was not handled but a retry may
	// succeed.
	ResultTransientError
	// ResultPermanentError means the event will never be handled.
	ResultPermanentError
)

// String returns the result name used in logs and metric attributes.
func (r Result) String() string {
	switch r {
	case ResultAck:
		return "ack"
	case ResultTransientError:
		return "nack_transient"
	case ResultPermanentError:
		return "nack_permanent"
	default:
		return "unknown"
	}
}

// Ok reports whether r is an acknowledgment.
func (r Result) Ok() bool {
	return r == ResultAck
}

// Aggregate combines per-destination results into the result reported to
// the origin. It is an ack only when every result is an ack. Otherwise a
// single permanent failure makes the aggregate permanent; all remaining
// failures are transient. No results means nothing had to be done, which
// is an ack.
func Aggregate(results ...Result) Result {
	agg := ResultAck
	for _, r := range results {
		switch r {
		case ResultAck:
		case ResultPermanentError:
			return ResultPermanentError
		default:
			agg = ResultTransientError
		}
	}
	return agg
}

// ResultFromError maps a delivery error to a result. nil is an ack.
func ResultFromError(err error) Result {
	if err == nil {
		return ResultAck
	}
	if ceerrors.Categorize(err) == ceerrors.CategoryPermanent {
		return ResultPermanentError
	}
	return ResultTransientError
}
