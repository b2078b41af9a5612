package simplevideo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBootScript_Created(t *testing.T) {
	script, err := renderBootScript(EventCreated, SyncTarget{
		Bucket:   "media",
		Key:      "videos/u1/clip.mp4",
		Filename: "clip.mp4",
	}, "/var/www/html", "videos", "nginx")
	require.NoError(t, err)

	assert.Contains(t, script, "#cloud-boothook\n#!/bin/bash\n")
	assert.Contains(t, script, "mkdir -p '/var/www/html/videos'")
	assert.Contains(t, script, "aws s3 cp 's3://media/videos/u1/clip.mp4' '/var/www/html/videos/clip.mp4'")
	assert.Contains(t, script, "systemctl restart 'nginx'")
	assert.NotContains(t, script, "rm -f")
}

func TestRenderBootScript_Removed(t *testing.T) {
	script, err := renderBootScript(EventRemoved, SyncTarget{
		Bucket:   "media",
		Key:      "videos/u1/clip.mp4",
		Filename: "clip.mp4",
	}, "/srv/www", "media", "caddy")
	require.NoError(t, err)

	assert.Contains(t, script, "rm -f '/srv/www/media/clip.mp4'")
	assert.Contains(t, script, "systemctl restart 'caddy'")
	assert.NotContains(t, script, "aws s3 cp")
}

func TestRenderBootScript_QuotesFilenames(t *testing.T) {
	script, err := renderBootScript(EventRemoved, SyncTarget{
		Key:      "videos/it's $(reboot).mp4",
		Filename: "it's $(reboot).mp4",
	}, "/var/www/html", "videos", "nginx")
	require.NoError(t, err)
	assert.Contains(t, script, `rm -f '/var/www/html/videos/it'\''s $(reboot).mp4'`)
}

func TestRenderBootScript_UnknownKind(t *testing.T) {
	_, err := renderBootScript(EventKind("restored"), SyncTarget{}, "/var/www/html", "videos", "nginx")
	assert.Error(t, err)
}
