package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/tapenotes/transcriberd/internal/config"
)

// Converter normalizes arbitrary input media into the canonical mono
// 16 kHz 16-bit PCM WAV the transcription engine expects, and probes
// audio duration.
type Converter struct {
	ffmpeg  []string
	ffprobe []string
	timeout time.Duration
	log     *slog.Logger
}

func NewConverter(cfg config.ConvertConfig, log *slog.Logger) (*Converter, error) {
	parser := shellwords.NewParser()
	ffmpeg, err := parser.Parse(cfg.FFmpegCommand)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(ffmpeg) == 0 {
		return nil, fmt.Errorf("ffmpeg command is empty")
	}
	ffprobe, err := parser.Parse(cfg.FFprobeCommand)
	if err != nil {
		return nil, fmt.Errorf("parse ffprobe command: %w", err)
	}
	if len(ffprobe) == 0 {
		return nil, fmt.Errorf("ffprobe command is empty")
	}
	return &Converter{
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		timeout: time.Duration(cfg.TimeoutS) * time.Second,
		log:     log,
	}, nil
}

// ToWAV transcodes inputPath into {recordingID}_audio.wav under
// scratchDir and returns the canonical audio path.
func (c *Converter) ToWAV(ctx context.Context, inputPath, scratchDir, recordingID string) (string, error) {
	wavPath := filepath.Join(scratchDir, recordingID+"_audio.wav")

	args := append([]string{}, c.ffmpeg[1:]...)
	args = append(args,
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		wavPath,
	)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	command := exec.CommandContext(runCtx, c.ffmpeg[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", &ConversionError{Path: inputPath, Err: fmt.Errorf("%w: %s", err, stderr.String())}
	}

	if info, err := os.Stat(wavPath); err == nil {
		c.log.Info("converted to wav", slog.String("path", wavPath), slog.Int64("bytes", info.Size()))
	}
	return wavPath, nil
}

// ProbeDuration returns the audio duration in seconds, rounded to two
// decimals. A failing probe is never fatal: it falls back to the WAV
// header and finally to 0.0.
func (c *Converter) ProbeDuration(ctx context.Context, wavPath string) float64 {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	args := append([]string{}, c.ffprobe[1:]...)
	args = append(args,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		wavPath,
	)

	command := exec.CommandContext(probeCtx, c.ffprobe[0], args...)
	out, err := command.Output()
	if err == nil {
		if seconds, perr := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); perr == nil {
			return round2(seconds)
		}
	}

	if seconds, werr := wavDuration(wavPath); werr == nil {
		c.log.Warn("ffprobe failed, using wav header duration", slog.String("path", wavPath))
		return seconds
	}

	c.log.Warn("could not determine audio duration", slog.String("path", wavPath))
	return 0.0
}

// wavDuration decodes the RIFF header to recover duration when ffprobe
// is unavailable.
func wavDuration(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	d, err := decoder.Duration()
	if err != nil {
		return 0, err
	}
	return round2(d.Seconds()), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
