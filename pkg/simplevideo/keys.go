package simplevideo

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const (
	// VideoPrefix is the key namespace the pipeline ingests from
	VideoPrefix = "videos/"
	// VideoExtension is the only extension the pipeline ingests (case-insensitive)
	VideoExtension = ".mp4"
	// ThumbnailPrefix is the key namespace derived preview images are written to
	ThumbnailPrefix = "thumbnails/"
)

// DecodeKey decodes an object key as delivered in storage notifications,
// where '+' stands for a space.
func DecodeKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidKey, raw, err)
	}
	return key, nil
}

// IsVideoKey reports whether key is a video the pipeline ingests
func IsVideoKey(key string) bool {
	return strings.HasPrefix(key, VideoPrefix) &&
		len(key) > len(VideoPrefix)+len(VideoExtension) &&
		strings.EqualFold(path.Ext(key), VideoExtension)
}

// EventKindOf classifies a storage event name such as "ObjectCreated:Put"
func EventKindOf(eventName string) (EventKind, bool) {
	switch {
	case strings.HasPrefix(eventName, "ObjectCreated:"):
		return EventCreated, true
	case strings.HasPrefix(eventName, "ObjectRemoved:"):
		return EventRemoved, true
	}
	return "", false
}

// ThumbnailKey returns the derived preview key for a video key:
// videos/u1/clip.mp4 becomes thumbnails/clip.jpg.
func ThumbnailKey(key string) string {
	base := path.Base(key)
	return ThumbnailPrefix + strings.TrimSuffix(base, path.Ext(base)) + ".jpg"
}
