package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/redarch/logging-go/event"
)

// Client is the delivery client: it encodes one batch, attaches a credential
// from the AuthProvider and classifies the transport's answer.
type Client struct {
	transport Transport
	auth      AuthProvider
	service   string
}

// NewClient wires a Transport and AuthProvider for the given service; the
// service name becomes the credential subject.
func NewClient(t Transport, auth AuthProvider, service string) *Client {
	return &Client{transport: t, auth: auth, service: service}
}

// Send attempts exactly one delivery of batch (plus at most one internal
// resend after a credential refresh on 401) and classifies the result.
func (c *Client) Send(ctx context.Context, batch []event.Event) Outcome {
	payload, err := json.Marshal(batch)
	if err != nil {
		// Events are validated serializable at construction; reaching this
		// means the batch can never be delivered.
		return Outcome{Class: ClassRejected, Err: fmt.Errorf("transport: marshal batch: %w", err)}
	}

	status, err := c.deliver(ctx, payload)
	if err != nil {
		return Outcome{Class: ClassTransient, Err: err}
	}

	if status == http.StatusUnauthorized {
		// The credential may simply have expired: refresh once and resend.
		c.auth.Invalidate(c.service)
		status, err = c.deliver(ctx, payload)
		if err != nil {
			return Outcome{Class: ClassTransient, Err: err}
		}
		if status == http.StatusUnauthorized {
			return Outcome{
				Class:  ClassRejected,
				Status: status,
				Err:    fmt.Errorf("transport: unauthorized after credential refresh"),
			}
		}
	}

	return classify(status)
}

func (c *Client) deliver(ctx context.Context, payload []byte) (int, error) {
	token, err := c.auth.Token(ctx, c.service)
	if err != nil {
		return 0, fmt.Errorf("transport: obtain credential: %w", err)
	}
	return c.transport.Deliver(ctx, payload, "Bearer "+token)
}

// classify maps a status code (other than the 401 handled in Send) to an
// outcome class.
func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Outcome{Class: ClassDelivered, Status: status}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return Outcome{
			Class:  ClassTransient,
			Status: status,
			Err:    fmt.Errorf("transport: endpoint answered %d", status),
		}
	default:
		return Outcome{
			Class:  ClassRejected,
			Status: status,
			Err:    fmt.Errorf("transport: endpoint refused batch with %d", status),
		}
	}
}
