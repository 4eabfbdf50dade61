package errorbank

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestAppError_StatusMapping(t *testing.T) {
	cases := []struct {
		err      *AppError
		httpCode int
		grpcCode codes.Code
	}{
		{BadRequest("bad"), http.StatusBadRequest, codes.InvalidArgument},
		{Conflict("conflict"), http.StatusConflict, codes.AlreadyExists},
		{NotFound("missing"), http.StatusNotFound, codes.NotFound},
		{Unprocessable("rejected"), http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{Unauthorized("who"), http.StatusUnauthorized, codes.Unauthenticated},
		{Forbidden("no"), http.StatusForbidden, codes.PermissionDenied},
		{Unavailable("down"), http.StatusBadGateway, codes.Unavailable},
		{Internal("boom"), http.StatusInternalServerError, codes.Internal},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.httpCode, tc.err.StatusCode(), tc.err.Message())
		assert.Equal(t, tc.grpcCode, tc.err.GRPCCode(), tc.err.Message())
	}
}

func TestFrom(t *testing.T) {
	appErr := Conflict("state changed")
	assert.Same(t, appErr, From(appErr))

	wrapped := From(errors.New("driver exploded"))
	require.NotNil(t, wrapped)
	assert.Equal(t, KindInternal, wrapped.Kind())

	assert.Nil(t, From(nil))
}

func TestWithCauseAndDetails(t *testing.T) {
	cause := errors.New("root")
	err := Unavailable("carrier down", WithCause(cause), WithDetail("provider", "steadfast"))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "steadfast", err.Details()["provider"])
}
