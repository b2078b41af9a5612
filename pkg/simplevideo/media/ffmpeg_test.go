package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{raw: "12.480000", want: 12.48},
		{raw: " 3 ", want: 3},
		{raw: "", wantErr: true},
		{raw: "N/A", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-1.5", wantErr: true},
		{raw: "NaN", wantErr: true},
		{raw: "+Inf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseDuration(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestFormatSeek(t *testing.T) {
	assert.Equal(t, "1.000", formatSeek(time.Second))
	assert.Equal(t, "2.500", formatSeek(2500*time.Millisecond))
	assert.Equal(t, "0.000", formatSeek(-time.Second))
}

func TestScaleJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 360))
	for x := 0; x < 640; x++ {
		for y := 0; y < 360; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var raw bytes.Buffer
	require.NoError(t, jpeg.Encode(&raw, src, nil))

	out, err := scaleJPEG(raw.Bytes(), 320, 180, 85)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 180, cfg.Height)

	_, err = scaleJPEG([]byte("not an image"), 320, 180, 85)
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	tk := New(Config{})
	assert.Equal(t, "ffmpeg", tk.cfg.FfmpegBinPath)
	assert.Equal(t, "ffprobe", tk.cfg.FfprobeBinPath)
	assert.Equal(t, 85, tk.cfg.JPEGQuality)
}

func TestExtractFrame_InvalidSize(t *testing.T) {
	_, err := New(Config{}).ExtractFrame(context.Background(), "in.mp4", time.Second, 0, 180)
	assert.Error(t, err)
}

func TestProbeDuration_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tk := New(Config{FfprobeBinPath: "/nonexistent/ffprobe"})
	_, err := tk.ProbeDuration(ctx, "in.mp4")
	assert.Error(t, err)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCaptureFrame_KilledOnDeadline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts stand in for the ffmpeg binaries")
	}
	dir := t.TempDir()
	tk := New(Config{
		FfprobeBinPath: writeScript(t, dir, "ffprobe", "echo '{}'"),
		FfmpegBinPath:  writeScript(t, dir, "ffmpeg", "exec sleep 30"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tk.captureFrame(ctx, "in.mp4", filepath.Join(dir, "frame.jpg"), time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}
