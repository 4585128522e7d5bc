package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tapenotes/transcriberd/internal/asr"
	"github.com/tapenotes/transcriberd/internal/bus"
	"github.com/tapenotes/transcriberd/internal/config"
	"github.com/tapenotes/transcriberd/internal/diarize"
	"github.com/tapenotes/transcriberd/internal/jobstore"
	"github.com/tapenotes/transcriberd/internal/media"
	"github.com/tapenotes/transcriberd/internal/notify"
	"github.com/tapenotes/transcriberd/internal/pipeline"
	"github.com/tapenotes/transcriberd/internal/protocol"
)

// Runtime wires the service together: the HTTP accept surface, the
// pipeline orchestrator, and the readiness counters.
type Runtime struct {
	cfg          config.Config
	log          *slog.Logger
	httpServer   *http.Server
	orchestrator *pipeline.Orchestrator
	transcriber  asr.Engine
	diarizer     diarize.Engine
	store        *jobstore.Store
	events       *bus.Publisher
	activeJobs   atomic.Int64
	ready        atomic.Bool
	wg           sync.WaitGroup

	jobsInFlight metric.Int64UpDownCounter
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*Runtime, error) {
	transcriber, err := newTranscriber(cfg, log)
	if err != nil {
		return nil, err
	}
	diarizer, err := newDiarizer(cfg, log)
	if err != nil {
		return nil, err
	}

	store, err := jobstore.Open(ctx, cfg.JobStore, log)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	var events *bus.Publisher
	if cfg.Bus.Enabled {
		events, err = bus.Connect(cfg.Bus, log)
		if err != nil {
			log.Warn("bus unavailable, job events disabled", slog.String("error", err.Error()))
			events = nil
		}
	}

	downloader := media.NewDownloader(cfg.Download, newS3Client(ctx, cfg.Download, log), log)
	converter, err := media.NewConverter(cfg.Convert, log)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewNotifier(cfg.Callback, log)

	orchestrator := pipeline.New(cfg, pipeline.Deps{
		Downloader:  downloader,
		Converter:   converter,
		Transcriber: transcriber,
		Diarizer:    diarizer,
		Notifier:    notifier,
		Store:       store,
		Events:      events,
	}, log)

	meter := otel.Meter("github.com/tapenotes/transcriberd/internal/runtime")
	jobsInFlight, _ := meter.Int64UpDownCounter("transcriber.jobs.in_flight",
		metric.WithDescription("Jobs currently being processed"))

	return &Runtime{
		cfg:          cfg,
		log:          log,
		orchestrator: orchestrator,
		transcriber:  transcriber,
		diarizer:     diarizer,
		store:        store,
		events:       events,
		jobsInFlight: jobsInFlight,
	}, nil
}

func newTranscriber(cfg config.Config, log *slog.Logger) (asr.Engine, error) {
	if cfg.Transcribe.Mode == "mock" {
		return asr.NewMockEngine(nil, ""), nil
	}
	return asr.NewExecEngine(cfg.Transcribe, log)
}

func newDiarizer(cfg config.Config, log *slog.Logger) (diarize.Engine, error) {
	if cfg.Diarize.Mode == "mock" {
		return diarize.NewMockEngine(nil), nil
	}
	return diarize.NewExecEngine(cfg.Diarize, log)
}

// newS3Client builds the storage-native download path. Without usable
// credentials the downloader falls back to plain HTTP for everything.
func newS3Client(ctx context.Context, cfg config.DownloadConfig, log *slog.Logger) media.S3API {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.Warn("aws config unavailable, s3-native downloads disabled", slog.String("error", err.Error()))
		return nil
	}
	return s3.NewFromConfig(awsCfg)
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.log)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", r.handleTranscribe)
	mux.HandleFunc("/health", r.handleHealth)
	mux.HandleFunc("/healthz", r.handleHealthz)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/jobs", r.handleJobs)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	r.ready.Store(true)
	r.log.Info("runtime started", slog.String("addr", addr))

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	r.log.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.log.Error("http shutdown error", slog.String("error", err.Error()))
	}

	// In-flight jobs run to completion; there is no abort path.
	r.wg.Wait()

	r.events.Close()
	if err := r.store.Close(); err != nil {
		r.log.Error("job store close error", slog.String("error", err.Error()))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.log.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var job protocol.JobRequest
	if err := json.NewDecoder(req.Body).Decode(&job); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	if job.RecordingID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recording_id required"})
		return
	}
	if job.CallbackURL == "" || job.CallbackSecret == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "callback_url and callback_secret required"})
		return
	}
	if job.SourceURL() == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio_url or video_url required"})
		return
	}

	r.events.PublishAccepted(job.RecordingID)
	r.log.Info("accepted transcription job", slog.String("recording_id", job.RecordingID))

	r.wg.Add(1)
	r.activeJobs.Add(1)
	r.jobsInFlight.Add(req.Context(), 1)
	go func() {
		defer r.wg.Done()
		// Jobs outlive the accept request; no mid-pipeline cancellation.
		ctx := context.Background()
		defer func() {
			r.activeJobs.Add(-1)
			r.jobsInFlight.Add(ctx, -1)
		}()
		r.orchestrator.Run(ctx, job)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "accepted",
		"recording_id": job.RecordingID,
	})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"models_warm": r.transcriber.Warm(),
		"active_jobs": r.activeJobs.Load(),
	})
}

func (r *Runtime) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleJobs(w http.ResponseWriter, req *http.Request) {
	if !r.store.Enabled() {
		writeJSON(w, http.StatusOK, []jobstore.JobRecord{})
		return
	}
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := r.store.Recent(req.Context(), limit)
	if err != nil {
		r.log.Error("failed to list jobs", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "job history unavailable"})
		return
	}
	if records == nil {
		records = []jobstore.JobRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
