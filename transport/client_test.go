package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
)

// scriptedTransport returns canned (status, err) pairs in order, recording
// the authorization header of each call.
type scriptedTransport struct {
	mu      sync.Mutex
	script  []deliverResult
	calls   int
	headers []string
}

type deliverResult struct {
	status int
	err    error
}

func (s *scriptedTransport) Deliver(_ context.Context, _ []byte, authorization string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = append(s.headers, authorization)
	i := s.calls
	s.calls++
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	r := s.script[i]
	return r.status, r.err
}

// staticAuth hands out "t<N>" tokens, bumping N on Invalidate.
type staticAuth struct {
	mu    sync.Mutex
	gen   int
	mints int
}

func (a *staticAuth) Token(context.Context, string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mints++
	return "t" + string(rune('0'+a.gen)), nil
}

func (a *staticAuth) Invalidate(string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
}

func TestClient_Classification(t *testing.T) {
	cases := []struct {
		name   string
		result deliverResult
		want   Class
	}{
		{"200 ok", deliverResult{status: 200}, ClassDelivered},
		{"202 accepted", deliverResult{status: 202}, ClassDelivered},
		{"network error", deliverResult{err: errors.New("connection refused")}, ClassTransient},
		{"500", deliverResult{status: 500}, ClassTransient},
		{"503", deliverResult{status: 503}, ClassTransient},
		{"408 timeout", deliverResult{status: 408}, ClassTransient},
		{"429 throttled", deliverResult{status: 429}, ClassTransient},
		{"400 bad request", deliverResult{status: 400}, ClassRejected},
		{"403 forbidden", deliverResult{status: 403}, ClassRejected},
		{"413 too large", deliverResult{status: 413}, ClassRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &scriptedTransport{script: []deliverResult{tc.result}}
			c := NewClient(tr, &staticAuth{}, "billing")

			out := c.Send(context.Background(), testBatch(t))
			if out.Class != tc.want {
				t.Errorf("class = %v, want %v (outcome %v)", out.Class, tc.want, out)
			}
		})
	}
}

func TestClient_RefreshesCredentialOn401(t *testing.T) {
	tr := &scriptedTransport{script: []deliverResult{
		{status: http.StatusUnauthorized},
		{status: http.StatusOK},
	}}
	auth := &staticAuth{}
	c := NewClient(tr, auth, "billing")

	out := c.Send(context.Background(), testBatch(t))
	if !out.Delivered() {
		t.Fatalf("outcome = %v, want delivered", out)
	}
	if tr.calls != 2 {
		t.Errorf("transport calls = %d, want 2", tr.calls)
	}
	// The resend must carry a credential minted after the refresh.
	if tr.headers[0] != "Bearer t0" || tr.headers[1] != "Bearer t1" {
		t.Errorf("headers = %v", tr.headers)
	}
}

func TestClient_SecondUnauthorizedIsRejected(t *testing.T) {
	tr := &scriptedTransport{script: []deliverResult{
		{status: http.StatusUnauthorized},
		{status: http.StatusUnauthorized},
	}}
	c := NewClient(tr, &staticAuth{}, "billing")

	out := c.Send(context.Background(), testBatch(t))
	if out.Class != ClassRejected {
		t.Errorf("class = %v, want rejected (outcome %v)", out.Class, out)
	}
	if tr.calls != 2 {
		t.Errorf("transport calls = %d, want exactly 2 (no retry loop)", tr.calls)
	}
}

func TestClient_CredentialFailureIsTransient(t *testing.T) {
	tr := &scriptedTransport{script: []deliverResult{{status: 200}}}
	c := NewClient(tr, failingAuth{}, "billing")

	out := c.Send(context.Background(), testBatch(t))
	if out.Class != ClassTransient {
		t.Errorf("class = %v, want transient", out.Class)
	}
	if tr.calls != 0 {
		t.Errorf("transport called %d times without a credential", tr.calls)
	}
}

type failingAuth struct{}

func (failingAuth) Token(context.Context, string) (string, error) {
	return "", errors.New("kms unavailable")
}
func (failingAuth) Invalidate(string) {}
