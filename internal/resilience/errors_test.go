package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", Transient(errors.New("rate limited"), http.StatusTooManyRequests), true},
		{"wrapped by eris", eris.Wrap(Transient(errors.New("busy"), 503), "ai: grade"), true},
		{"connection reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"message heuristic", errors.New("read tcp: i/o timeout"), true},
		{"overloaded", errors.New("529 Overloaded"), true},
		{"plain", errors.New("invalid request: bad model"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	cause := errors.New("upstream")
	err := Transient(cause, 502)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upstream", err.Error())
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, TransientStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, TransientStatus(code), code)
	}
}
