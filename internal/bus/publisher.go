package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tapenotes/transcriberd/internal/config"
	"github.com/tapenotes/transcriberd/internal/protocol"
)

// Publisher emits job lifecycle events on NATS. All methods are
// nil-safe so callers can hold a nil *Publisher when the bus is
// disabled.
type Publisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Publisher, error) {
	options := []nats.Option{
		nats.Name("transcriberd"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return &Publisher{conn: conn, log: log}, nil
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.log.Info("closing NATS connection")
	_ = p.conn.Drain()
	p.conn.Close()
}

func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// PublishAccepted announces a newly accepted job.
func (p *Publisher) PublishAccepted(recordingID string) {
	p.publish(protocol.SubjectJobAccepted, protocol.JobEvent{RecordingID: recordingID})
}

// PublishCompleted announces a finished job, success or error.
func (p *Publisher) PublishCompleted(envelope protocol.ResultEnvelope) {
	p.publish(protocol.SubjectJobCompleted, protocol.JobEvent{
		RecordingID:       envelope.RecordingID,
		Status:            envelope.Status,
		Error:             envelope.Error,
		ProcessingSeconds: envelope.ProcessingSeconds,
	})
}

func (p *Publisher) publish(subject string, event protocol.JobEvent) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("failed to marshal job event", slog.String("error", err.Error()))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn("failed to publish job event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
