// Package media wraps the ffmpeg toolchain behind the pipeline's probing and
// frame capture interfaces.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/nfnt/resize"
)

// Config locates the ffmpeg binaries
type Config struct {
	FfmpegBinPath  string
	FfprobeBinPath string
	TempDir        string
	JPEGQuality    int
}

// Toolkit implements simplevideo.DurationProber and simplevideo.FrameExtractor.
// A cancelled context kills a running frame capture. ffprobe calls, including
// the metadata read that precedes every capture, run without a context; the
// call returns early and ffprobe finishes in the background.
type Toolkit struct {
	cfg Config
}

// New creates a toolkit; empty binary paths resolve from PATH
func New(cfg Config) *Toolkit {
	if cfg.FfmpegBinPath == "" {
		cfg.FfmpegBinPath = "ffmpeg"
	}
	if cfg.FfprobeBinPath == "" {
		cfg.FfprobeBinPath = "ffprobe"
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	return &Toolkit{cfg: cfg}
}

func (t *Toolkit) ffmpegConfig() *ffmpeg.Config {
	return &ffmpeg.Config{
		ProgressEnabled: true,
		FfmpegBinPath:   t.cfg.FfmpegBinPath,
		FfprobeBinPath:  t.cfg.FfprobeBinPath,
	}
}

// ProbeDuration returns the container duration of source in seconds
func (t *Toolkit) ProbeDuration(ctx context.Context, source string) (float64, error) {
	type probeResult struct {
		duration float64
		err      error
	}
	done := make(chan probeResult, 1)

	go func() {
		metadata, err := ffmpeg.New(t.ffmpegConfig()).Input(source).GetMetadata()
		if err != nil {
			done <- probeResult{err: fmt.Errorf("ffprobe failed: %w", err)}
			return
		}
		if metadata == nil || metadata.GetFormat() == nil {
			done <- probeResult{err: errors.New("ffprobe returned no format")}
			return
		}
		d, err := parseDuration(metadata.GetFormat().GetDuration())
		done <- probeResult{duration: d, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-done:
		return r.duration, r.err
	}
}

func parseDuration(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "N/A" {
		return 0, errors.New("duration not reported")
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// ExtractFrame captures the frame at offset and scales it to width x height
func (t *Toolkit) ExtractFrame(ctx context.Context, source string, offset time.Duration, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	dir, err := os.MkdirTemp(t.cfg.TempDir, "frame-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	done := make(chan error, 1)
	output := filepath.Join(dir, "frame.jpg")
	go func() {
		done <- t.captureFrame(ctx, source, output, offset)
	}()

	select {
	case <-ctx.Done():
		// the capture goroutine still owns dir
		go func() {
			<-done
			os.RemoveAll(dir)
		}()
		return nil, ctx.Err()
	case err := <-done:
		defer os.RemoveAll(dir)
		if err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg produced no frame: %w", err)
	}
	return scaleJPEG(raw, width, height, t.cfg.JPEGQuality)
}

func (t *Toolkit) captureFrame(ctx context.Context, source, output string, offset time.Duration) error {
	seek := formatSeek(offset)
	frames := 1
	format := "image2"
	overwrite := true
	opts := &ffmpeg.Options{
		SeekTime:     &seek,
		Vframes:      &frames,
		OutputFormat: &format,
		Overwrite:    &overwrite,
	}

	progress, err := ffmpeg.New(t.ffmpegConfig()).
		Input(source).
		Output(output).
		WithContext(&ctx).
		Start(opts)
	if err != nil {
		return fmt.Errorf("ffmpeg failed to start: %w", err)
	}
	for range progress {
	}
	return ctx.Err()
}

// formatSeek renders offset as ffmpeg's seconds.millis form
func formatSeek(offset time.Duration) string {
	if offset < 0 {
		offset = 0
	}
	return strconv.FormatFloat(offset.Seconds(), 'f', 3, 64)
}

func scaleJPEG(raw []byte, width, height, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	scaled := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
