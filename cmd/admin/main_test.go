package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-video/pkg/simplevideo"
	"github.com/tendant/simple-video/pkg/simplevideo/auth"
	memoryrepo "github.com/tendant/simple-video/pkg/simplevideo/repo/memory"
	memorystorage "github.com/tendant/simple-video/pkg/simplevideo/storage/memory"
)

func runAdmin(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestListEmptyCatalog(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("STORAGE_URL", "memory://videos")

	out, err := runAdmin(t, "list", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestReplayRejectsForeignKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("STORAGE_URL", "memory://videos")

	_, err := runAdmin(t, "replay", "videos", "uploads/clip.mp4")
	assert.Error(t, err)
}

func TestReplayMissingObjectFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("STORAGE_URL", "memory://videos")

	out, err := runAdmin(t, "replay", "videos", "videos/clip.mp4")
	require.Error(t, err)
	assert.Contains(t, out, `"key": "videos/clip.mp4"`)
}

type fixedProber struct{}

func (fixedProber) ProbeDuration(ctx context.Context, source string) (float64, error) {
	return 12, nil
}

func TestDownloadVideo(t *testing.T) {
	store := memorystorage.New("videos")
	svc, err := simplevideo.New(
		simplevideo.WithRepository(memoryrepo.New()),
		simplevideo.WithBlobStore("videos", store),
		simplevideo.WithProber(fixedProber{}),
	)
	require.NoError(t, err)
	ctx := context.Background()
	store.Put("videos/u1/clip.mp4", "video/mp4", []byte("0123456789"))
	outcome, ok := svc.ProcessRecord(ctx, simplevideo.StorageRecord{EventName: "ObjectCreated:Put", Bucket: "videos", Key: "videos/u1/clip.mp4"})
	require.True(t, ok)
	require.False(t, outcome.Failed(), outcome.Error)

	t.Run("stdout", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, downloadVideo(ctx, svc, outcome.ID, "", &out))
		assert.Equal(t, "0123456789", out.String())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mp4")
		var out bytes.Buffer
		require.NoError(t, downloadVideo(ctx, svc, outcome.ID, path, &out))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(data))
		assert.Contains(t, out.String(), "(10 bytes)")
	})

	t.Run("unknown id", func(t *testing.T) {
		err := downloadVideo(ctx, svc, "00000000-0000-0000-0000-000000000000", "", &bytes.Buffer{})
		assert.ErrorIs(t, err, simplevideo.ErrVideoNotFound)
	})
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	out, err := runAdmin(t, "token", "user-1", "--ttl", "1h")
	require.NoError(t, err)

	verifier, err := auth.NewHMACVerifier("s3cret")
	require.NoError(t, err)
	claims, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Identity())
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := runAdmin(t, "token", "user-1")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	d := 42.5
	assert.Equal(t, "42.5s", formatDuration(&d))
	assert.Equal(t, "-", formatDuration(nil))
}
