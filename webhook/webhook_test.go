package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliver_SignsBody(t *testing.T) {
	var gotSig, gotUA string
	var got Event
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotUA = r.Header.Get("User-Agent")
		raw, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := &Event{Type: EventRunCompleted, RunID: "r1", Timestamp: 42, Data: map[string]int{"records": 3}}
	require.NoError(t, Deliver(context.Background(), srv.URL, "s3cret", ev))

	assert.Equal(t, EventRunCompleted, got.Type)
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, Sign("s3cret", raw), gotSig)
	assert.Equal(t, "Edenscrape-Webhook/1.0", gotUA)
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	var present bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[SignatureHeader]
	}))
	defer srv.Close()

	require.NoError(t, Deliver(context.Background(), srv.URL, "", &Event{Type: EventRunFailed}))
	assert.False(t, present)
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := Deliver(context.Background(), srv.URL, "", &Event{Type: EventRunFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestDeliverAsync_Retries(t *testing.T) {
	orig := retryDelays
	retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { retryDelays = orig })

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	DeliverAsync(srv.URL, "k", &Event{Type: EventRunCompleted, RunID: "r2"})
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
}

func TestSign(t *testing.T) {
	sig := Sign("key", []byte("body"))
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.Equal(t, sig, Sign("key", []byte("body")))
	assert.NotEqual(t, sig, Sign("other", []byte("body")))
}
