package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/tabletop-hub/internal/errors"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := map[string]struct {
		err  *errors.Error
		want int
	}{
		"not found":        {errors.NotFound("game %s", "g1"), http.StatusNotFound},
		"invalid argument": {errors.InvalidArgument("volume"), http.StatusBadRequest},
		"unavailable":      {errors.Unavailable(stderrors.New("dial"), "gateway"), http.StatusBadGateway},
		"internal":         {errors.Internal(stderrors.New("boom")), http.StatusInternalServerError},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.HTTPStatusCode())
		})
	}
}

func TestConvert_WrapsUnknownAsInternal(t *testing.T) {
	e := errors.Convert(stderrors.New("boom"))
	assert.Equal(t, errors.CodeInternal, e.Code)
	assert.EqualError(t, e.Unwrap(), "boom")
}

func TestConvert_FindsWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("loading map: %w", errors.NotFound("map for game %q", "g1"))
	e := errors.Convert(wrapped)
	assert.Equal(t, errors.CodeNotFound, e.Code)
	assert.Equal(t, `map for game "g1"`, e.Message)
	assert.True(t, errors.Is(wrapped, errors.CodeNotFound))
	assert.False(t, errors.Is(wrapped, errors.CodeInvalidArgument))
}

func TestGRPCStatus(t *testing.T) {
	st, ok := status.FromError(errors.Unavailable(nil, "janus down"))
	require.True(t, ok)
	assert.Equal(t, codes.Unavailable, st.Code())
	assert.Equal(t, "janus down", st.Message())
}
