// Package event defines the LogEvent value that the client ships to the
// collection endpoint.
//
// An Event is fully formed and serializable once New returns: required fields
// are validated, defaults (logger name, request id, capture time) are filled
// in, and no part of the client mutates it afterwards. The JSON field names
// are the wire contract — level, service, logger_name, message, user_id,
// tenant_id, request_id, context, client_log_datetime — and round-trip
// losslessly through the disk buffer, including arbitrary nested context
// values.
package event
