package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New("trustd", srv.URL, "")
	err := n.Send(context.Background(), "subject", "body")
	require.NoError(t, err)
	assert.Equal(t, "trustd", got.Program)
	assert.Equal(t, "subject", got.Subject)
	assert.Equal(t, "body", got.Body)
}

func TestSendNoOpWithBlankEndpoint(t *testing.T) {
	n := New("trustd", "", "")
	assert.NoError(t, n.Send(context.Background(), "x", "y"))
}

func TestSendRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New("cifloader", srv.URL, "")
	err := n.Send(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New("cifloader", srv.URL, "")
	err := n.Send(context.Background(), "x", "y")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLatencySubject(t *testing.T) {
	assert.Equal(t, "[trustd] latency alarm raised", LatencySubject("trustd", true))
	assert.Equal(t, "[trustd] latency alarm cleared", LatencySubject("trustd", false))
}
