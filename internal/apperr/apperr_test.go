package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindOf_ThroughErisWrap(t *testing.T) {
	err := eris.Wrap(NotWritable("assessment is %s", "submitted"), "responses: upsert")

	assert.Equal(t, KindNotWritable, KindOf(err))
	assert.True(t, Is(err, KindNotWritable))
	assert.Equal(t, "assessment is submitted", MessageOf(err))
}

func TestKindOf_PlainError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", MessageOf(err))
	assert.False(t, Is(nil, KindInternal))
}

func TestErrorsIs_MatchesKind(t *testing.T) {
	err := eris.Wrap(Conflict("status changed"), "store: update status")
	assert.True(t, errors.Is(err, Conflict("")))
	assert.False(t, errors.Is(err, NotFound("")))
}

func TestUpstream_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream(cause, "scorer unreachable")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upstream_failure")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidState, http.StatusConflict},
		{KindNotWritable, http.StatusConflict},
		{KindConflict, http.StatusConflict},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindInvalidValue, http.StatusBadRequest},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindUpstreamFailure, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}
