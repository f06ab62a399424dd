package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivesocial/hive_sdk_go/pkg/mockapi"
)

func TestParseFailConfig(t *testing.T) {
	tests := []struct {
		raw     string
		want    failConfig
		wantErr bool
	}{
		{raw: "", want: failConfig{}},
		{raw: "rate=0.25", want: failConfig{rate: 0.25}},
		{raw: "rate=0.5, code=503", want: failConfig{rate: 0.5, code: 503}},
		{raw: "rate=2", wantErr: true},
		{raw: "rate", wantErr: true},
		{raw: "ratio=0.1", wantErr: true},
		{raw: "code=abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseFailConfig(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestExportLines(t *testing.T) {
	assert.Equal(t, []string{
		"export HIVE_RUNTIME_MODE=http",
		"export HIVE_API_URL=http://localhost:8787/api",
	}, exportLines(":8787"))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "OK", statusCode(http.StatusNoContent))
	assert.Equal(t, "RATE_LIMITED", statusCode(http.StatusTooManyRequests))
	assert.Equal(t, "SERVER_ERROR", statusCode(http.StatusServiceUnavailable))
}

func TestHandlerServesAPIAndMetrics(t *testing.T) {
	backend := mockapi.New(mockapi.Options{Seed: 1})
	srv := httptest.NewServer(newHandler(backend, prometheus.NewRegistry(), zerolog.Nop()))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/api/v1/feed?size=2")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `hive_requests_total{code="OK",method="GET"} 1`)
}
