package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/tapenotes/transcriberd/internal/config"
)

// S3API abstracts the one S3 operation the downloader needs.
// The [s3.Client] type satisfies this interface.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Virtual-hosted S3 URLs: https://{bucket}.s3.{region}.amazonaws.com/{key}
var s3HostedURL = regexp.MustCompile(`^https?://([^./]+)\.s3[.-]([^./]+)\.amazonaws\.com/(.+)$`)

// Downloader resolves a job's media reference to local scratch storage.
// Storage-native references go straight to S3 (no pre-signed URL
// needed); anything else is streamed over HTTP in fixed-size chunks to
// bound memory use.
type Downloader struct {
	http      *http.Client
	s3        S3API
	chunkSize int
	log       *slog.Logger
}

func NewDownloader(cfg config.DownloadConfig, s3Client S3API, log *slog.Logger) *Downloader {
	return &Downloader{
		http:      &http.Client{Timeout: time.Duration(cfg.HTTPTimeout) * time.Second},
		s3:        s3Client,
		chunkSize: cfg.ChunkSizeBytes,
		log:       log,
	}
}

// Download fetches url into dest and returns the bytes transferred.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	if bucket, key, ok := parseS3Ref(url); ok && d.s3 != nil {
		n, err := d.downloadS3(ctx, bucket, key, dest)
		if err != nil {
			return 0, &DownloadError{URL: url, Err: err}
		}
		d.log.Info("downloaded from s3",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.Int64("bytes", n))
		return n, nil
	}

	n, err := d.downloadHTTP(ctx, url, dest)
	if err != nil {
		return 0, &DownloadError{URL: url, Err: err}
	}
	d.log.Info("downloaded via http", slog.String("dest", dest), slog.Int64("bytes", n))
	return n, nil
}

func (d *Downloader) downloadS3(ctx context.Context, bucket, key, dest string) (int64, error) {
	out, err := d.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return 0, fmt.Errorf("storage object not found: s3://%s/%s", bucket, key)
		}
		return 0, err
	}
	defer out.Body.Close()

	return d.writeStream(dest, out.Body)
}

func (d *Downloader) downloadHTTP(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return d.writeStream(dest, resp.Body)
}

func (d *Downloader) writeStream(dest string, body io.Reader) (int64, error) {
	file, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	n, err := io.CopyBuffer(file, body, make([]byte, d.chunkSize))
	if err != nil {
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func parseS3Ref(raw string) (bucket, key string, ok bool) {
	if strings.HasPrefix(raw, "s3://") {
		rest := strings.TrimPrefix(raw, "s3://")
		if i := strings.IndexByte(rest, '/'); i > 0 && i < len(rest)-1 {
			return rest[:i], rest[i+1:], true
		}
		return "", "", false
	}
	if m := s3HostedURL.FindStringSubmatch(raw); m != nil {
		return m[1], m[3], true
	}
	return "", "", false
}

// InputPath is the scratch destination for a job's raw media, with the
// extension inferred from the source URL.
func InputPath(scratchDir, recordingID, url string) string {
	return filepath.Join(scratchDir, recordingID+"_input"+inputExt(url))
}

func inputExt(url string) string {
	switch {
	case strings.Contains(url, ".webm"):
		return ".webm"
	case strings.Contains(url, ".mp4"):
		return ".mp4"
	case strings.Contains(url, ".wav"):
		return ".wav"
	default:
		return ".mp3"
	}
}
