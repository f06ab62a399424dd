package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
)

func TestDoSuccessSendsHeaders(t *testing.T) {
	var gotPath, gotCT, gotReqID, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotCT = r.Header.Get("Content-Type")
		gotReqID = r.Header.Get("X-Request-Id")
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/api", WithTokenSource(func() string { return "tok" }))
	require.NoError(t, err)

	res, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/v1/posts",
		Query:  map[string][]string{"page": {"1"}},
		Body:   []byte(`{"content":"hi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.JSONEq(t, `{"ok":true}`, string(res.Body))
	assert.Equal(t, "/api/v1/posts?page=1", gotPath)
	assert.Equal(t, "application/json", gotCT)
	assert.NotEmpty(t, gotReqID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, `{"content":"hi"}`, gotBody)
}

func TestDoServerErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"success":false,"message":"database unavailable","data":null,"errorCode":"SERVER_ERROR","timestamp":"t"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "v1/posts", Body: []byte(`{}`)})
	reqErr, ok := apierr.As(err)
	require.True(t, ok, "expected RequestError, got %T", err)
	assert.Equal(t, 500, reqErr.Status())
	assert.Equal(t, apierr.CodeServer, reqErr.Code())
	assert.True(t, reqErr.Retryable())
	assert.Equal(t, "database unavailable", reqErr.Message())
	assert.Contains(t, string(reqErr.Payload()), "SERVER_ERROR")
}

func TestDoClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "v1/posts/x"})
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeNotFound, reqErr.Code())
	assert.False(t, reqErr.Retryable())
	assert.Equal(t, "Request failed", reqErr.Message())
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, WithTimeout(30*time.Second))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "v1/feed", Timeout: 50 * time.Millisecond})
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, 0, reqErr.Status())
	assert.Equal(t, apierr.CodeTimeout, reqErr.Code())
	assert.True(t, reqErr.Retryable())
}

func TestDoCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = c.Do(ctx, &Request{Method: http.MethodGet, Path: "v1/feed"})
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeUnknown, reqErr.Code())
	assert.False(t, reqErr.Retryable())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "v1/feed"})
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeNetwork, reqErr.Code())
	assert.True(t, reqErr.Retryable())
	assert.Equal(t, 0, reqErr.Status())
}

func TestCircuitBreakerOpensOnRetryableFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithCircuitBreaker(BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute}))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "v1/feed"})
		assert.True(t, apierr.HasCode(err, apierr.CodeServer))
	}
	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "v1/feed"})
	assert.True(t, apierr.HasCode(err, apierr.CodeNetwork), "expected fast failure, got %v", err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithCircuitBreaker(BreakerSettings{ConsecutiveFailures: 1}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "v1/feed"})
		assert.True(t, apierr.HasCode(err, apierr.CodeValidation))
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
	_, err = NewClient("://bad")
	assert.Error(t, err)
	_, err = NewClient("/relative")
	assert.Error(t, err)
}

func TestBackoffSchedule(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 0)
	assert.Equal(t, time.Second, b.Base(0))
	assert.Equal(t, 2*time.Second, b.Base(1))
	assert.Equal(t, 4*time.Second, b.Base(2))
	assert.Equal(t, 16*time.Second, b.Base(4))
	assert.Equal(t, 30*time.Second, b.Base(5))
	assert.Equal(t, 30*time.Second, b.Base(80))
	assert.Equal(t, 4*time.Second, b.ForAttempt(2))

	jittered := NewBackoff(time.Second, 30*time.Second, 0.25)
	for attempt := 0; attempt < 8; attempt++ {
		base := jittered.Base(attempt)
		for i := 0; i < 50; i++ {
			d := jittered.ForAttempt(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
		}
	}
}
