package simplevideo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKey(t *testing.T) {
	key, err := DecodeKey("videos/u1/My+Clip%281%29.mp4")
	require.NoError(t, err)
	assert.Equal(t, "videos/u1/My Clip(1).mp4", key)

	_, err = DecodeKey("videos/%zz.mp4")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestIsVideoKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"videos/u1/clip.mp4", true},
		{"videos/clip.MP4", true},
		{"videos/.mp4", false},
		{"videos/u1/clip.mov", false},
		{"uploads/clip.mp4", false},
		{"thumbnails/clip.jpg", false},
		{"Videos/clip.mp4", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVideoKey(tt.key))
		})
	}
}

func TestEventKindOf(t *testing.T) {
	kind, ok := EventKindOf("ObjectCreated:CompleteMultipartUpload")
	assert.True(t, ok)
	assert.Equal(t, EventCreated, kind)

	kind, ok = EventKindOf("ObjectRemoved:Delete")
	assert.True(t, ok)
	assert.Equal(t, EventRemoved, kind)

	_, ok = EventKindOf("ObjectRestore:Completed")
	assert.False(t, ok)
}

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t, "thumbnails/clip.jpg", ThumbnailKey("videos/u1/clip.mp4"))
	assert.Equal(t, "thumbnails/My Clip.jpg", ThumbnailKey("videos/My Clip.MP4"))
}

func TestAssetPatch(t *testing.T) {
	assert.True(t, AssetPatch{}.IsEmpty())

	d := 12.5
	url := "http://host/videos/a.mp4"
	asset := &VideoAsset{Filename: "a.mp4", Status: AssetStatusProcessing}
	patch := AssetPatch{Duration: &d, StreamingURL: &url, Status: statusPtr(AssetStatusReady)}
	require.False(t, patch.IsEmpty())

	patch.Apply(asset)
	assert.Equal(t, "a.mp4", asset.Filename)
	assert.Equal(t, AssetStatusReady, asset.Status)
	assert.Equal(t, url, asset.StreamingURL)
	require.NotNil(t, asset.Duration)
	assert.Equal(t, 12.5, *asset.Duration)

	d = 99
	assert.Equal(t, 12.5, *asset.Duration)

	AssetPatch{ClearDuration: true}.Apply(asset)
	assert.Nil(t, asset.Duration)
	assert.False(t, AssetPatch{ClearDuration: true}.IsEmpty())
}

func TestAssetPatch_Validate(t *testing.T) {
	d := 1.0
	unknown := AssetStatus("archived")
	tests := []struct {
		name    string
		patch   AssetPatch
		wantErr bool
	}{
		{"empty", AssetPatch{}, true},
		{"unknown status", AssetPatch{Status: &unknown}, true},
		{"set and clear duration", AssetPatch{Duration: &d, ClearDuration: true}, true},
		{"status only", AssetPatch{Status: statusPtr(AssetStatusActive)}, false},
		{"clear only", AssetPatch{ClearDuration: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPatch)
				return
			}
			assert.NoError(t, err)
		})
	}
}
