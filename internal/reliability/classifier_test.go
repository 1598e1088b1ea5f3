package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 204, 400, 401, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = true, want false", code)
		}
	}
}

func TestIsRetryableBackendCode(t *testing.T) {
	if !IsRetryableBackendCode("rate_limited") {
		t.Fatalf("rate_limited should be retryable")
	}
	if IsRetryableBackendCode("invalid_request_error") {
		t.Fatalf("invalid_request_error should not be retryable")
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	if !IsExpectedCloseError(&websocket.CloseError{Code: websocket.CloseNormalClosure}) {
		t.Fatalf("normal closure should be expected")
	}
	if IsExpectedCloseError(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}) {
		t.Fatalf("abnormal closure should not be expected")
	}
	if IsExpectedCloseError(errors.New("broken pipe")) {
		t.Fatalf("plain errors should not be expected closes")
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second
	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("ExponentialBackoff(0) = %s, want %s", got, base)
	}
	if got := ExponentialBackoff(2, base, cap); got != 400*time.Millisecond {
		t.Fatalf("ExponentialBackoff(2) = %s, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("ExponentialBackoff(10) = %s, want cap %s", got, cap)
	}
}
