package syncqueue

import (
	"context"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/studyquest/offline-engine/internal/errors"
)

// ErrMalformedPayload is returned by a Replayer for payloads that can never
// be sent as-is.
var ErrMalformedPayload = errors.NewStd("malformed queued payload")

// Outcome is the result of replaying one item.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeConnectivity Outcome = "connectivity"
	OutcomeAuthExpired  Outcome = "auth_expired"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeServerError  Outcome = "server_error"
	OutcomeRejected     Outcome = "rejected"
)

// IsConnectivityError reports whether err means the network could not be
// reached, as opposed to a canceled caller or a server answer.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// *url.Error and *net.OpError both implement net.Error; an HTTP client
	// only returns one when no response was received.
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify maps a replay result to an outcome.
func classify(status int, err error) Outcome {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return OutcomeMalformed
	case err != nil && IsConnectivityError(err):
		return OutcomeConnectivity
	case err != nil:
		return OutcomeRejected
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeAuthExpired
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return OutcomeMalformed
	case status >= 500:
		return OutcomeServerError
	default:
		return OutcomeRejected
	}
}
