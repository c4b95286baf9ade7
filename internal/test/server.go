package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/api/router"
	"github/chapool/go-autoyield/internal/config"

	"github.com/go-openapi/runtime"
	"github.com/go-openapi/strfmt"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

// APIToken is the bearer token accepted by test servers.
const APIToken = "test-api-token"

// Config returns the default config with test friendly overrides. The
// scheduler is disabled so the server is ready without network access.
func Config() config.Server {
	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Logger.PrettyPrintConsole = false
	cfg.Echo.APIToken = APIToken
	cfg.Echo.Debug = false
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.SeedFile = ""

	return cfg
}

// WithTestServer returns a fully configured server (using the default
// config from Config()) to closure.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	WithTestServerConfigurable(t, Config(), closure)
}

// WithTestServerConfigurable returns a fully configured server for the
// provided config to closure.
func WithTestServerConfigurable(t *testing.T, cfg config.Server, closure func(s *api.Server)) {
	t.Helper()

	s, err := api.InitNewTestServer(cfg, t)
	require.NoError(t, err, "failed to init test server")

	router.Init(s)

	t.Cleanup(func() {
		if errs := s.Shutdown(context.Background()); len(errs) > 0 {
			t.Errorf("failed to shutdown server: %v", errs)
		}
	})

	closure(s)
}

// AuthHeaders returns the headers carrying the test bearer token.
func AuthHeaders() http.Header {
	return http.Header{
		echo.HeaderAuthorization: []string{"Bearer " + APIToken},
	}
}

// PerformRequest runs a request against the echo instance of s. A non nil
// body is JSON encoded unless it is already a []byte.
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body interface{}, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err, "failed to encode request body")
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}

	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)

	return res
}

// ParseResponseAndValidate decodes the body of res into v and validates it
// against its schema.
func ParseResponseAndValidate(t *testing.T, res *httptest.ResponseRecorder, v runtime.Validatable) {
	t.Helper()

	require.NoError(t, json.NewDecoder(res.Body).Decode(v), "failed to decode response")
	require.NoError(t, v.Validate(strfmt.Default), "response did not match schema")
}
