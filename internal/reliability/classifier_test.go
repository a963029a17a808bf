package reliability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/gorilla/websocket"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableRealtimeError(t *testing.T) {
	if !IsRetryableRealtimeError("rate_limit_exceeded") {
		t.Fatalf("rate_limit_exceeded should be retryable")
	}
	if IsRetryableRealtimeError("invalid_request_error") {
		t.Fatalf("invalid_request_error should not be retryable")
	}
}

func TestCloseReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "closed"},
		{&websocket.CloseError{Code: websocket.CloseNormalClosure}, "normal"},
		{&websocket.CloseError{Code: websocket.CloseGoingAway}, "normal"},
		{&websocket.CloseError{Code: websocket.CloseAbnormalClosure}, "abnormal"},
		{fmt.Errorf("read: %w", net.ErrClosed), "closed"},
		{io.EOF, "closed"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		if got := CloseReason(tc.err); got != tc.want {
			t.Fatalf("CloseReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if IsExpectedClose(errors.New("boom")) {
		t.Fatalf("generic error should not be an expected close")
	}
}
