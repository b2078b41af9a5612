package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-video/pkg/simplevideo"
)

// Repository implements simplevideo.Repository using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	assets  map[string]*simplevideo.VideoAsset // key -> asset
	keyByID map[string]string                  // id -> key
	now     func() time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets:  make(map[string]*simplevideo.VideoAsset),
		keyByID: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) UpsertAsset(ctx context.Context, key string, patch simplevideo.AssetPatch) (*simplevideo.VideoAsset, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	asset, exists := r.assets[key]
	if !exists {
		asset = &simplevideo.VideoAsset{
			ID:        uuid.New().String(),
			Key:       key,
			Status:    simplevideo.AssetStatusProcessing,
			CreatedAt: now,
		}
		r.assets[key] = asset
		r.keyByID[asset.ID] = key
	}

	patch.Apply(asset)
	asset.UpdatedAt = now

	return copyAsset(asset), nil
}

func (r *Repository) GetAsset(ctx context.Context, id string) (*simplevideo.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, exists := r.keyByID[id]
	if !exists {
		return nil, simplevideo.ErrVideoNotFound
	}
	return copyAsset(r.assets[key]), nil
}

func (r *Repository) GetAssetByKey(ctx context.Context, key string) (*simplevideo.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[key]
	if !exists {
		return nil, simplevideo.ErrVideoNotFound
	}
	return copyAsset(asset), nil
}

func (r *Repository) ListAssetsByStatus(ctx context.Context, statuses []simplevideo.AssetStatus) ([]*simplevideo.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[simplevideo.AssetStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	var result []*simplevideo.VideoAsset
	for _, asset := range r.assets {
		if wanted[asset.Status] {
			result = append(result, copyAsset(asset))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UploadDate.Equal(result[j].UploadDate) {
			return result[i].UploadDate.After(result[j].UploadDate)
		}
		return result[i].Key < result[j].Key
	})

	return result, nil
}

func (r *Repository) DeleteAssetByKey(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if asset, exists := r.assets[key]; exists {
		delete(r.keyByID, asset.ID)
		delete(r.assets, key)
	}
	return nil
}

// Len returns the number of stored records
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

func copyAsset(asset *simplevideo.VideoAsset) *simplevideo.VideoAsset {
	assetCopy := *asset
	if asset.Duration != nil {
		d := *asset.Duration
		assetCopy.Duration = &d
	}
	return &assetCopy
}
