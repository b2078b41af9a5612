// Package s3 stores video objects and their thumbnails in an S3 bucket or an
// S3-compatible service such as MinIO.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-video/pkg/simplevideo"
)

const (
	defaultRegion  = "us-east-1"
	defaultLinkTTL = time.Hour
)

// Config describes one bucket
type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string // static credentials; the default chain is used when empty
	SecretAccessKey string
	Endpoint        string // MinIO or another S3-compatible endpoint
	UsePathStyle    bool
	PresignDuration int // seconds

	EnableSSE    bool
	SSEAlgorithm string // AES256 or aws:kms
	SSEKMSKeyID  string

	CreateBucketIfNotExist bool
}

// Backend implements simplevideo.BlobStore for one bucket
type Backend struct {
	api     *s3.Client
	signer  *s3.PresignClient
	bucket  string
	region  string
	linkTTL time.Duration
	sse     encryption
}

// LoadAWSConfig resolves region and credentials for every AWS client of the
// pipeline: static keys when both are given, the default chain otherwise.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey string) (aws.Config, error) {
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// New connects a Backend. No request is sent unless CreateBucketIfNotExist is set.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	linkTTL := defaultLinkTTL
	if cfg.PresignDuration > 0 {
		linkTTL = time.Duration(cfg.PresignDuration) * time.Second
	}

	awsCfg, err := LoadAWSConfig(ctx, region, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, err
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	b := &Backend{
		api:     api,
		signer:  s3.NewPresignClient(api),
		bucket:  cfg.Bucket,
		region:  region,
		linkTTL: linkTTL,
		sse:     newEncryption(cfg),
	}
	if cfg.CreateBucketIfNotExist {
		if err := b.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Bucket returns the bucket the backend serves
func (b *Backend) Bucket() string {
	return b.bucket
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	switch {
	case err == nil:
		return nil
	case !isMissing(err):
		return fmt.Errorf("failed to check bucket %s: %w", b.bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	if _, err := b.api.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", b.bucket, err)
	}
	return nil
}

// isMissing reports whether err means the key or bucket does not exist.
// HEAD responses carry no body, so the SDK only sees the bare code.
func isMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

type encryption struct {
	algorithm types.ServerSideEncryption
	kmsKeyID  string
}

func newEncryption(cfg Config) encryption {
	if !cfg.EnableSSE {
		return encryption{}
	}
	switch cfg.SSEAlgorithm {
	case "aws:kms":
		return encryption{algorithm: types.ServerSideEncryptionAwsKms, kmsKeyID: cfg.SSEKMSKeyID}
	default:
		return encryption{algorithm: types.ServerSideEncryptionAes256}
	}
}

func (e encryption) apply(in *s3.PutObjectInput) {
	if e.algorithm == "" {
		return
	}
	in.ServerSideEncryption = e.algorithm
	if e.kmsKeyID != "" {
		in.SSEKMSKeyId = aws.String(e.kmsKeyID)
	}
}

func (b *Backend) GetObjectMeta(ctx context.Context, key string) (*simplevideo.ObjectMeta, error) {
	head, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return nil, simplevideo.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to head %s: %w", key, err)
	}
	return objectMetaFromHead(key, head), nil
}

func objectMetaFromHead(key string, head *s3.HeadObjectOutput) *simplevideo.ObjectMeta {
	meta := &simplevideo.ObjectMeta{
		Key:         key,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		ETag:        strings.Trim(aws.ToString(head.ETag), `"`),
		Metadata:    make(map[string]string, len(head.Metadata)),
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	for k, v := range head.Metadata {
		meta.Metadata[k] = v
	}
	if head.LastModified != nil {
		meta.LastModified = head.LastModified.UTC()
	}
	return meta
}

// UploadWithParams streams reader to the bucket, in parts for large bodies
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params simplevideo.UploadParams) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(params.ObjectKey),
		Body:        reader,
		ContentType: aws.String(params.MimeType),
	}
	b.sse.apply(in)

	if _, err := manager.NewUploader(b.api).Upload(ctx, in); err != nil {
		return fmt.Errorf("failed to upload %s: %w", params.ObjectKey, err)
	}
	return nil
}

func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return nil, simplevideo.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return out.Body, nil
}

// GetReadURL signs a GET for key; ffmpeg and ffprobe read through it
func (b *Backend) GetReadURL(ctx context.Context, key string) (string, error) {
	req, err := b.signer.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(b.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String("inline"),
	}, s3.WithPresignExpires(b.linkTTL))
	if err != nil {
		return "", fmt.Errorf("failed to sign read of %s: %w", key, err)
	}
	return req.URL, nil
}

// GetUploadURL signs a PUT for key. Clients must send the same Content-Type.
func (b *Backend) GetUploadURL(ctx context.Context, key string, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	b.sse.apply(in)

	req, err := b.signer.PresignPutObject(ctx, in, s3.WithPresignExpires(b.linkTTL))
	if err != nil {
		return "", fmt.Errorf("failed to sign upload of %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes key. S3 reports success for keys that do not exist.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
