package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/tapenotes/transcriberd/internal/config"
	"github.com/tapenotes/transcriberd/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNotifySignsExactBodyBytes(t *testing.T) {
	const secret = "shared-hmac-secret"
	var calls atomic.Int32
	var gotSignature string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotSignature = r.Header.Get(SignatureHeader)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(config.CallbackConfig{TimeoutS: 5}, newLogger())
	envelope := protocol.ResultEnvelope{
		RecordingID:       "rec-1",
		Status:            protocol.StatusSuccess,
		TranscriptText:    "Speaker 0: hello",
		ProcessingSeconds: 12,
	}
	n.Notify(context.Background(), server.URL, secret, envelope)

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", calls.Load())
	}
	if !hmac.Equal([]byte(gotSignature), []byte(Sign(secret, gotBody))) {
		t.Fatal("signature does not verify against received body")
	}

	var decoded protocol.ResultEnvelope
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body is not valid envelope JSON: %v", err)
	}
	if decoded.RecordingID != "rec-1" || decoded.ProcessingSeconds != 12 {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
}

func TestNotifyDoesNotRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewNotifier(config.CallbackConfig{TimeoutS: 5}, newLogger())
	n.Notify(context.Background(), server.URL, "secret", protocol.ResultEnvelope{
		RecordingID: "rec-2",
		Status:      protocol.StatusError,
		Error:       "transcription failed",
	})

	if calls.Load() != 1 {
		t.Fatalf("expected single attempt, got %d", calls.Load())
	}
}

func TestNotifySwallowsTransportFailure(t *testing.T) {
	n := NewNotifier(config.CallbackConfig{TimeoutS: 1}, newLogger())
	// Must not panic or surface an error to the caller.
	n.Notify(context.Background(), "http://127.0.0.1:1/callback", "secret", protocol.ResultEnvelope{
		RecordingID: "rec-3",
		Status:      protocol.StatusError,
	})
}
