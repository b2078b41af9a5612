package simplevideo

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

func (s *service) ListVideos(ctx context.Context) ([]*VideoAsset, error) {
	videos, err := s.repository.ListAssetsByStatus(ctx, ListableStatuses)
	if err != nil {
		return nil, err
	}
	if videos == nil {
		videos = []*VideoAsset{}
	}
	return videos, nil
}

func (s *service) GetVideo(ctx context.Context, id string) (*VideoAsset, error) {
	if id == "" {
		return nil, ErrVideoNotFound
	}
	return s.repository.GetAsset(ctx, id)
}

// OpenVideo streams the stored object of a video. The caller closes the reader.
func (s *service) OpenVideo(ctx context.Context, id string) (*VideoAsset, io.ReadCloser, error) {
	asset, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	store, err := s.blobStoreFor(asset.Bucket)
	if err != nil {
		return nil, nil, err
	}
	rc, err := store.Download(ctx, asset.Key)
	if err != nil {
		return nil, nil, &StorageError{Bucket: asset.Bucket, Key: asset.Key, Op: "download", Err: err}
	}
	return asset, rc, nil
}

// RemoveVideo deletes the storage object and then the catalog record. The
// two stores are not updated atomically: when the object is gone but the
// record survives, the returned error matches ErrPartialFailure.
func (s *service) RemoveVideo(ctx context.Context, id string) error {
	asset, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}

	store, err := s.blobStoreFor(asset.Bucket)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, asset.Key); err != nil {
		return &StorageError{Bucket: asset.Bucket, Key: asset.Key, Op: "delete", Err: err}
	}

	if err := s.repository.DeleteAssetByKey(ctx, asset.Key); err != nil {
		return &PartialFailureError{Key: asset.Key, Err: err}
	}

	s.logger.Info("video removed", "id", id, "key", asset.Key)
	return nil
}

// RequestUpload issues a presigned upload URL under the owner's video
// namespace. No record is written; the creation notification for the
// uploaded object creates it.
func (s *service) RequestUpload(ctx context.Context, owner, fileName, contentType string) (*UploadTicket, error) {
	owner = strings.TrimSpace(owner)
	name := path.Base(strings.TrimSpace(fileName))
	if owner == "" || strings.Contains(owner, "/") || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: owner and file name are required", ErrInvalidRequest)
	}

	now := s.now()
	key := fmt.Sprintf("%s%s/%d-%s", VideoPrefix, owner, now.UnixMilli(), name)
	if !IsVideoKey(key) {
		return nil, fmt.Errorf("%w: only %s uploads are ingested", ErrInvalidRequest, VideoExtension)
	}
	if contentType == "" {
		contentType = "video/mp4"
	}

	store, err := s.blobStoreFor(s.defaultBucket)
	if err != nil {
		return nil, err
	}
	url, err := store.GetUploadURL(ctx, key, contentType)
	if err != nil {
		return nil, &StorageError{Bucket: s.defaultBucket, Key: key, Op: "presign upload", Err: err}
	}

	return &UploadTicket{Key: key, UploadURL: url, ExpiresAt: now.Add(s.uploadURLExpires)}, nil
}
