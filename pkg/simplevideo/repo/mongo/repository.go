package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-video/pkg/simplevideo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection video records are stored in
const DefaultCollection = "videos"

type assetDocument struct {
	ID           string    `bson:"_id"`
	Key          string    `bson:"key"`
	Bucket       string    `bson:"bucket,omitempty"`
	Filename     string    `bson:"filename"`
	Size         int64     `bson:"size"`
	ContentType  string    `bson:"contentType"`
	LastModified time.Time `bson:"lastModified"`
	UploadDate   time.Time `bson:"uploadDate"`
	Duration     *float64  `bson:"duration,omitempty"`
	ThumbnailURL string    `bson:"thumbnailUrl,omitempty"`
	StreamingURL string    `bson:"streamingUrl,omitempty"`
	Status       string    `bson:"status"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d *assetDocument) toAsset() *simplevideo.VideoAsset {
	return &simplevideo.VideoAsset{
		ID:           d.ID,
		Key:          d.Key,
		Bucket:       d.Bucket,
		Filename:     d.Filename,
		Size:         d.Size,
		ContentType:  d.ContentType,
		LastModified: d.LastModified.UTC(),
		UploadDate:   d.UploadDate.UTC(),
		Duration:     d.Duration,
		ThumbnailURL: d.ThumbnailURL,
		StreamingURL: d.StreamingURL,
		Status:       simplevideo.AssetStatus(d.Status),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// Repository implements simplevideo.Repository on a MongoDB collection
type Repository struct {
	connector  *Connector
	collection string
	now        func() time.Time
}

// New creates a repository over the connector's database
func New(connector *Connector, collection string) *Repository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Repository{
		connector:  connector,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) coll(ctx context.Context) (*mongo.Collection, error) {
	db, err := r.connector.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(r.collection), nil
}

// EnsureIndexes creates the unique key index and the listing index
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	coll, err := r.coll(ctx)
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "uploadDate", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (r *Repository) UpsertAsset(ctx context.Context, key string, patch simplevideo.AssetPatch) (*simplevideo.VideoAsset, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	coll, err := r.coll(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc assetDocument
	err = coll.FindOneAndUpdate(ctx, bson.M{"key": key}, buildUpdate(patch, uuid.New().String(), r.now()), opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("upsert asset %s: %w", key, err)
	}
	return doc.toAsset(), nil
}

// buildUpdate renders a field-level update: patched fields go to $set, the
// identity and creation time to $setOnInsert.
func buildUpdate(patch simplevideo.AssetPatch, id string, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if patch.Bucket != nil {
		set["bucket"] = *patch.Bucket
	}
	if patch.Filename != nil {
		set["filename"] = *patch.Filename
	}
	if patch.Size != nil {
		set["size"] = *patch.Size
	}
	if patch.ContentType != nil {
		set["contentType"] = *patch.ContentType
	}
	if patch.LastModified != nil {
		set["lastModified"] = *patch.LastModified
	}
	if patch.UploadDate != nil {
		set["uploadDate"] = *patch.UploadDate
	}
	if patch.Duration != nil {
		set["duration"] = *patch.Duration
	}
	if patch.ThumbnailURL != nil {
		set["thumbnailUrl"] = *patch.ThumbnailURL
	}
	if patch.StreamingURL != nil {
		set["streamingUrl"] = *patch.StreamingURL
	}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}

	onInsert := bson.M{"_id": id, "createdAt": now}
	if patch.Status == nil {
		onInsert["status"] = string(simplevideo.AssetStatusProcessing)
	}

	update := bson.M{"$set": set, "$setOnInsert": onInsert}
	if patch.ClearDuration && patch.Duration == nil {
		update["$unset"] = bson.M{"duration": ""}
	}
	return update
}

func (r *Repository) GetAsset(ctx context.Context, id string) (*simplevideo.VideoAsset, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *Repository) GetAssetByKey(ctx context.Context, key string) (*simplevideo.VideoAsset, error) {
	return r.findOne(ctx, bson.M{"key": key})
}

func (r *Repository) findOne(ctx context.Context, filter bson.M) (*simplevideo.VideoAsset, error) {
	coll, err := r.coll(ctx)
	if err != nil {
		return nil, err
	}

	var doc assetDocument
	if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, simplevideo.ErrVideoNotFound
		}
		return nil, fmt.Errorf("find asset: %w", err)
	}
	return doc.toAsset(), nil
}

func (r *Repository) ListAssetsByStatus(ctx context.Context, statuses []simplevideo.AssetStatus) ([]*simplevideo.VideoAsset, error) {
	coll, err := r.coll(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}

	opts := options.Find().SetSort(bson.D{{Key: "uploadDate", Value: -1}, {Key: "key", Value: 1}})
	cursor, err := coll.Find(ctx, bson.M{"status": bson.M{"$in": names}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	var docs []assetDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}

	assets := make([]*simplevideo.VideoAsset, 0, len(docs))
	for i := range docs {
		assets = append(assets, docs[i].toAsset())
	}
	return assets, nil
}

func (r *Repository) DeleteAssetByKey(ctx context.Context, key string) error {
	coll, err := r.coll(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.DeleteOne(ctx, bson.M{"key": key}); err != nil {
		return fmt.Errorf("delete asset %s: %w", key, err)
	}
	return nil
}
