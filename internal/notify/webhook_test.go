package notify

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

func TestNotifyDeliversPayload(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier()
	err := notifier.Notify(context.Background(), server.URL, map[string]any{"event": "completed"})
	require.NoError(t, err)
	assert.Equal(t, "completed", received["event"])
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WithMaxRetries(3))
	err := notifier.Notify(context.Background(), server.URL, map[string]any{"event": "retry"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WithMaxRetries(3))
	err := notifier.Notify(context.Background(), server.URL, map[string]any{"event": "bad"})
	require.Error(t, err)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WithMaxRetries(0))
	err := notifier.Notify(context.Background(), server.URL, map[string]any{"event": "down"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
}
