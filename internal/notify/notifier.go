package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tapenotes/transcriberd/internal/config"
	"github.com/tapenotes/transcriberd/internal/protocol"
)

// SignatureHeader carries the hex HMAC-SHA256 of the exact raw body
// bytes, keyed with the job's callback secret.
const SignatureHeader = "X-Callback-Signature"

// Notifier delivers result envelopes to caller-supplied webhooks.
// Delivery is best-effort and single-attempt: non-2xx responses and
// transport failures are logged, never retried.
type Notifier struct {
	http *http.Client
	log  *slog.Logger
}

func NewNotifier(cfg config.CallbackConfig, log *slog.Logger) *Notifier {
	return &Notifier{
		http: &http.Client{Timeout: time.Duration(cfg.TimeoutS) * time.Second},
		log:  log,
	}
}

// Notify serializes the envelope, signs it, and posts it to url.
func (n *Notifier) Notify(ctx context.Context, url, secret string, envelope protocol.ResultEnvelope) {
	body, err := envelope.Marshal()
	if err != nil {
		n.log.Error("failed to marshal result envelope", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.log.Error("failed to build callback request", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(secret, body))

	resp, err := n.http.Do(req)
	if err != nil {
		n.log.Error("callback request failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	n.log.Info("callback sent",
		slog.String("recording_id", envelope.RecordingID),
		slog.Int("status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		n.log.Error("callback rejected",
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", string(snippet)))
	}
}

// Sign computes the hex HMAC-SHA256 signature for a callback body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
