package dynamodb

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-video/pkg/simplevideo"
)

type fakeAPI struct {
	lastUpdate *dynamodb.UpdateItemInput
	updated    map[string]types.AttributeValue
	items      []map[string]types.AttributeValue
	deleted    []string
}

func (f *fakeAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = params
	return &dynamodb.UpdateItemOutput{Attributes: f.updated}, nil
}

func (f *fakeAPI) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleted = append(f.deleted, params.Key["key"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{Items: f.items}, nil
}

func marshalItem(t *testing.T, item assetItem) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)
	return av
}

func TestNew_RequiresTable(t *testing.T) {
	_, err := New(&fakeAPI{}, "")
	assert.Error(t, err)
}

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	url := "http://1.2.3.4/videos/a.mp4"

	expr, err := buildUpdate(simplevideo.AssetPatch{StreamingURL: &url}, "id-1", now)
	require.NoError(t, err)

	names := make([]string, 0, len(expr.Names()))
	for _, name := range expr.Names() {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"updatedAt", "id", "createdAt", "streamingUrl", "status"}, names)
	assert.Contains(t, *expr.Update(), "if_not_exists")
	assert.NotContains(t, *expr.Update(), "REMOVE")
}

func TestBuildUpdate_ClearDuration(t *testing.T) {
	failed := simplevideo.AssetStatusError
	expr, err := buildUpdate(simplevideo.AssetPatch{Status: &failed, ClearDuration: true}, "id-1", time.Now())
	require.NoError(t, err)

	assert.Contains(t, *expr.Update(), "REMOVE")
	names := make([]string, 0, len(expr.Names()))
	for _, name := range expr.Names() {
		names = append(names, name)
	}
	assert.Contains(t, names, "duration")
}

func TestRepository_UpsertRejectsEmptyPatch(t *testing.T) {
	api := &fakeAPI{}
	repo, err := New(api, "videos")
	require.NoError(t, err)

	_, err = repo.UpsertAsset(context.Background(), "videos/u1/a.mp4", simplevideo.AssetPatch{})
	assert.ErrorIs(t, err, simplevideo.ErrInvalidPatch)
	assert.Nil(t, api.lastUpdate)
}

func TestRepository_UpsertAsset(t *testing.T) {
	api := &fakeAPI{updated: marshalItem(t, assetItem{
		Key:      "videos/u1/a.mp4",
		ID:       "id-1",
		Filename: "a.mp4",
		Status:   "ready",
	})}
	repo, err := New(api, "videos")
	require.NoError(t, err)

	name := "a.mp4"
	asset, err := repo.UpsertAsset(context.Background(), "videos/u1/a.mp4", simplevideo.AssetPatch{Filename: &name})
	require.NoError(t, err)

	assert.Equal(t, "id-1", asset.ID)
	assert.Equal(t, simplevideo.AssetStatusReady, asset.Status)
	require.NotNil(t, api.lastUpdate)
	assert.Equal(t, "videos", *api.lastUpdate.TableName)
	assert.Equal(t, types.ReturnValueAllNew, api.lastUpdate.ReturnValues)
	assert.Equal(t, "videos/u1/a.mp4", api.lastUpdate.Key["key"].(*types.AttributeValueMemberS).Value)
}

func TestRepository_ListAssetsByStatusSortsByUploadDate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{items: []map[string]types.AttributeValue{
		marshalItem(t, assetItem{Key: "videos/a.mp4", Status: "ready", UploadDate: base}),
		marshalItem(t, assetItem{Key: "videos/c.mp4", Status: "ready", UploadDate: base.Add(2 * time.Hour)}),
		marshalItem(t, assetItem{Key: "videos/b.mp4", Status: "active", UploadDate: base.Add(time.Hour)}),
	}}
	repo, err := New(api, "videos")
	require.NoError(t, err)

	assets, err := repo.ListAssetsByStatus(context.Background(), simplevideo.ListableStatuses)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "videos/c.mp4", assets[0].Key)
	assert.Equal(t, "videos/b.mp4", assets[1].Key)
	assert.Equal(t, "videos/a.mp4", assets[2].Key)
}

func TestRepository_GetAndDelete(t *testing.T) {
	api := &fakeAPI{}
	repo, err := New(api, "videos")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.GetAssetByKey(ctx, "videos/missing.mp4")
	assert.ErrorIs(t, err, simplevideo.ErrVideoNotFound)

	_, err = repo.GetAsset(ctx, "missing")
	assert.ErrorIs(t, err, simplevideo.ErrVideoNotFound)

	require.NoError(t, repo.DeleteAssetByKey(ctx, "videos/a.mp4"))
	assert.Equal(t, []string{"videos/a.mp4"}, api.deleted)
}
