package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnectivityError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("dial failed")}, true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", &url.Error{Op: "Post", URL: "http://x", Err: context.Canceled}, false},
		{"plain", errors.New("bad things"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		err    error
		want   Outcome
	}{
		{http.StatusOK, nil, OutcomeSuccess},
		{http.StatusNoContent, nil, OutcomeSuccess},
		{http.StatusUnauthorized, nil, OutcomeAuthExpired},
		{http.StatusForbidden, nil, OutcomeAuthExpired},
		{http.StatusBadRequest, nil, OutcomeMalformed},
		{http.StatusUnprocessableEntity, nil, OutcomeMalformed},
		{http.StatusBadGateway, nil, OutcomeServerError},
		{http.StatusConflict, nil, OutcomeRejected},
		{0, ErrMalformedPayload, OutcomeMalformed},
		{0, &url.Error{Op: "Post", URL: "http://x", Err: syscall.ECONNREFUSED}, OutcomeConnectivity},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.status, tt.err), "status=%d err=%v", tt.status, tt.err)
	}
}
