// Package relay implements the progress relay between a privileged helper
// and the process that launched it.
//
// The launching process runs one Server per (operation x channel) on a Unix
// domain socket. The helper opens a brand-new connection for every message,
// writes the raw UTF-8 text in one call and closes. The server does a single
// read per connection and forwards the decoded text to a Sink. No reply is
// ever written back and nothing is framed: a message is whatever one read
// returns, so payloads must fit the receive buffer.
//
// Two reserved tokens carry terminal state on status channels:
//
//	FN_OVERRIDE_SUCCESSFUL
//	FN_OVERRIDE_FAILED
//
// Every other text is a percentage (percent channels) or free-form status.
//
// # Endpoints
//
// Socket paths are created per run under a private directory
// (see NewEndpoints) and handed explicitly to both ends, so two instances of
// the application never bind the same path.
package relay
