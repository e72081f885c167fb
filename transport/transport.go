package transport

import (
	"context"
	"fmt"
)

// Transport moves one encoded batch to the collection endpoint.
// status is the HTTP status code (or equivalent); err reports transport-level
// failure (connection refused, timeout) where no status was obtained.
type Transport interface {
	Deliver(ctx context.Context, payload []byte, authorization string) (status int, err error)
}

// Class is the delivery outcome classification the worker acts on.
type Class int

const (
	// ClassDelivered — the endpoint accepted the batch.
	ClassDelivered Class = iota
	// ClassTransient — worth retrying: network failure, timeout, 408/429/5xx.
	ClassTransient
	// ClassRejected — the endpoint refused the batch and a retry cannot
	// succeed: 4xx other than 401/408/429, or an unserializable batch.
	ClassRejected
)

func (c Class) String() string {
	switch c {
	case ClassDelivered:
		return "delivered"
	case ClassTransient:
		return "transient"
	case ClassRejected:
		return "rejected"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Outcome is the classified result of one Send.
type Outcome struct {
	Class  Class
	Status int   // HTTP status when one was obtained, else 0
	Err    error // underlying cause for non-delivered outcomes
}

// Delivered reports whether the batch was accepted.
func (o Outcome) Delivered() bool { return o.Class == ClassDelivered }

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s (status=%d err=%v)", o.Class, o.Status, o.Err)
	}
	return fmt.Sprintf("%s (status=%d)", o.Class, o.Status)
}
