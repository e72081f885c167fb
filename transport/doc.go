// Package transport delivers batches of log events to the collection
// endpoint and classifies the outcome.
//
// Three pieces:
//   - Transport — the wire: Deliver(ctx, payload, authorization) → status.
//     HTTPTransport POSTs the JSON array with a Bearer header and optional
//     gzip body compression.
//   - AuthProvider — yields a bearer credential per attempt. JWTProvider
//     mints HS256 tokens with {sub, iat, exp} claims and caches them per
//     subject until shortly before expiry.
//   - Client — combines the two: marshals the batch, attaches a fresh
//     credential, sends once, and maps the result onto Outcome classes:
//     ClassDelivered (2xx), ClassTransient (network error, 408, 429, 5xx)
//     or ClassRejected (other 4xx). A 401 triggers exactly one credential
//     refresh and resend before being treated as rejected.
//
// Client performs no retries beyond the 401 refresh; retry scheduling
// belongs to the worker.
package transport
