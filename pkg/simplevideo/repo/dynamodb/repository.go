package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/tendant/simple-video/pkg/simplevideo"
)

// API is the subset of the DynamoDB client the repository uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// assetItem represents the DynamoDB item structure; "key" is the partition key
type assetItem struct {
	Key          string    `dynamodbav:"key"`
	ID           string    `dynamodbav:"id"`
	Bucket       string    `dynamodbav:"bucket,omitempty"`
	Filename     string    `dynamodbav:"filename"`
	Size         int64     `dynamodbav:"size"`
	ContentType  string    `dynamodbav:"contentType"`
	LastModified time.Time `dynamodbav:"lastModified"`
	UploadDate   time.Time `dynamodbav:"uploadDate"`
	Duration     *float64  `dynamodbav:"duration,omitempty"`
	ThumbnailURL string    `dynamodbav:"thumbnailUrl,omitempty"`
	StreamingURL string    `dynamodbav:"streamingUrl,omitempty"`
	Status       string    `dynamodbav:"status"`
	CreatedAt    time.Time `dynamodbav:"createdAt"`
	UpdatedAt    time.Time `dynamodbav:"updatedAt"`
}

func (i *assetItem) toAsset() *simplevideo.VideoAsset {
	return &simplevideo.VideoAsset{
		ID:           i.ID,
		Key:          i.Key,
		Bucket:       i.Bucket,
		Filename:     i.Filename,
		Size:         i.Size,
		ContentType:  i.ContentType,
		LastModified: i.LastModified.UTC(),
		UploadDate:   i.UploadDate.UTC(),
		Duration:     i.Duration,
		ThumbnailURL: i.ThumbnailURL,
		StreamingURL: i.StreamingURL,
		Status:       simplevideo.AssetStatus(i.Status),
		CreatedAt:    i.CreatedAt.UTC(),
		UpdatedAt:    i.UpdatedAt.UTC(),
	}
}

// Repository implements simplevideo.Repository on a DynamoDB table
type Repository struct {
	client    API
	tableName string
	now       func() time.Time
}

// New creates a repository over tableName
func New(client API, tableName string) (*Repository, error) {
	if tableName == "" {
		return nil, fmt.Errorf("DynamoDB table name cannot be empty")
	}
	return &Repository{
		client:    client,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Repository) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

func (r *Repository) UpsertAsset(ctx context.Context, key string, patch simplevideo.AssetPatch) (*simplevideo.VideoAsset, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	expr, err := buildUpdate(patch, uuid.New().String(), r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to build update: %w", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       r.itemKey(key),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	var item assetItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return item.toAsset(), nil
}

// buildUpdate sets the patched attributes and writes id, createdAt and the
// initial status only when the item does not exist yet.
func buildUpdate(patch simplevideo.AssetPatch, id string, now time.Time) (expression.Expression, error) {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(now)).
		Set(expression.Name("id"), expression.Name("id").IfNotExists(expression.Value(id))).
		Set(expression.Name("createdAt"), expression.Name("createdAt").IfNotExists(expression.Value(now)))

	set := func(name string, value interface{}) {
		update = update.Set(expression.Name(name), expression.Value(value))
	}
	if patch.Bucket != nil {
		set("bucket", *patch.Bucket)
	}
	if patch.Filename != nil {
		set("filename", *patch.Filename)
	}
	if patch.Size != nil {
		set("size", *patch.Size)
	}
	if patch.ContentType != nil {
		set("contentType", *patch.ContentType)
	}
	if patch.LastModified != nil {
		set("lastModified", *patch.LastModified)
	}
	if patch.UploadDate != nil {
		set("uploadDate", *patch.UploadDate)
	}
	if patch.Duration != nil {
		set("duration", *patch.Duration)
	} else if patch.ClearDuration {
		update = update.Remove(expression.Name("duration"))
	}
	if patch.ThumbnailURL != nil {
		set("thumbnailUrl", *patch.ThumbnailURL)
	}
	if patch.StreamingURL != nil {
		set("streamingUrl", *patch.StreamingURL)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	} else {
		update = update.Set(expression.Name("status"),
			expression.Name("status").IfNotExists(expression.Value(string(simplevideo.AssetStatusProcessing))))
	}

	return expression.NewBuilder().WithUpdate(update).Build()
}

func (r *Repository) GetAssetByKey(ctx context.Context, key string) (*simplevideo.VideoAsset, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if out.Item == nil {
		return nil, simplevideo.ErrVideoNotFound
	}

	var item assetItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return item.toAsset(), nil
}

// GetAsset scans for the surrogate id; the table is keyed by object key.
func (r *Repository) GetAsset(ctx context.Context, id string) (*simplevideo.VideoAsset, error) {
	filter := expression.Name("id").Equal(expression.Value(id))
	items, err := r.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, simplevideo.ErrVideoNotFound
	}
	return items[0].toAsset(), nil
}

func (r *Repository) ListAssetsByStatus(ctx context.Context, statuses []simplevideo.AssetStatus) ([]*simplevideo.VideoAsset, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	operands := make([]expression.OperandBuilder, 0, len(statuses)-1)
	for _, status := range statuses[1:] {
		operands = append(operands, expression.Value(string(status)))
	}
	filter := expression.Name("status").In(expression.Value(string(statuses[0])), operands...)

	items, err := r.scan(ctx, filter)
	if err != nil {
		return nil, err
	}

	assets := make([]*simplevideo.VideoAsset, 0, len(items))
	for i := range items {
		assets = append(assets, items[i].toAsset())
	}
	sort.Slice(assets, func(i, j int) bool {
		if !assets[i].UploadDate.Equal(assets[j].UploadDate) {
			return assets[i].UploadDate.After(assets[j].UploadDate)
		}
		return assets[i].Key < assets[j].Key
	})
	return assets, nil
}

func (r *Repository) scan(ctx context.Context, filter expression.ConditionBuilder) ([]assetItem, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                 aws.String(r.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var items []assetItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		var pageItems []assetItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		items = append(items, pageItems...)
	}
	return items, nil
}

func (r *Repository) DeleteAssetByKey(ctx context.Context, key string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}
