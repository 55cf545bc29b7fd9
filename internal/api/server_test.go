package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfin/greenflow/internal/workflow"
)

func newContext(t *testing.T, method, target, userID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestActorID(t *testing.T) {
	c, _ := newContext(t, http.MethodGet, "/", "42")
	id, err := actorID(c)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	c, _ = newContext(t, http.MethodGet, "/", "")
	_, err = actorID(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, err.(*echo.HTTPError).Code)

	c, _ = newContext(t, http.MethodGet, "/", "not-a-number")
	_, err = actorID(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, err.(*echo.HTTPError).Code)

	c, _ = newContext(t, http.MethodGet, "/", "-1")
	_, err = actorID(c)
	require.Error(t, err)
}

func TestPathID(t *testing.T) {
	c, _ := newContext(t, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("17")
	id, err := pathID(c)
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	c.SetParamValues("zero")
	_, err = pathID(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, err.(*echo.HTTPError).Code)
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("wrap: %w", workflow.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("wrap: %w", workflow.ErrTransition), http.StatusConflict},
		{fmt.Errorf("wrap: %w", workflow.ErrParse), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", workflow.ErrResolution), http.StatusUnprocessableEntity},
		{fmt.Errorf("database down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		he := httpError(tc.err).(*echo.HTTPError)
		assert.Equal(t, tc.code, he.Code, tc.err.Error())
	}
}

func TestHandleHealth(t *testing.T) {
	s := &Server{}
	c, rec := newContext(t, http.MethodGet, "/health", "")
	require.NoError(t, s.HandleHealth(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
