package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-video/pkg/simplevideo"
	"github.com/tendant/simple-video/pkg/simplevideo/auth"
	computeec2 "github.com/tendant/simple-video/pkg/simplevideo/compute/ec2"
	computememory "github.com/tendant/simple-video/pkg/simplevideo/compute/memory"
	"github.com/tendant/simple-video/pkg/simplevideo/lock"
	"github.com/tendant/simple-video/pkg/simplevideo/media"
	sqsqueue "github.com/tendant/simple-video/pkg/simplevideo/queue/sqs"
	repodynamo "github.com/tendant/simple-video/pkg/simplevideo/repo/dynamodb"
	"github.com/tendant/simple-video/pkg/simplevideo/repo/memory"
	repomongo "github.com/tendant/simple-video/pkg/simplevideo/repo/mongo"
	repopg "github.com/tendant/simple-video/pkg/simplevideo/repo/postgres"
	memorystorage "github.com/tendant/simple-video/pkg/simplevideo/storage/memory"
	s3storage "github.com/tendant/simple-video/pkg/simplevideo/storage/s3"
)

// Components is the assembled pipeline
type Components struct {
	Service       simplevideo.Service
	Repository    simplevideo.Repository
	BlobStores    map[string]simplevideo.BlobStore
	DefaultBucket string
	Verifier      *auth.HMACVerifier
}

type builder struct {
	cfg      *ServerConfig
	logger   *slog.Logger
	cleanups []func()
	awsCfg   *aws.Config
}

// Build assembles the service from the configuration. The returned cleanup
// releases connections and must be called once the components are done.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Components, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &builder{cfg: c, logger: logger}

	comps, err := b.build(ctx)
	if err != nil {
		b.cleanup()
		return nil, nil, err
	}
	return comps, b.cleanup, nil
}

func (b *builder) cleanup() {
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		b.cleanups[i]()
	}
	b.cleanups = nil
}

func (b *builder) build(ctx context.Context) (*Components, error) {
	c := b.cfg
	options := []simplevideo.Option{
		simplevideo.WithLogger(b.logger),
		simplevideo.WithBatchConcurrency(c.BatchConcurrency),
		simplevideo.WithProbeTimeout(c.Media.ProbeTimeout),
		simplevideo.WithUploadURLExpiry(presignDuration(c.AWS.PresignDuration)),
	}

	repo, err := b.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, simplevideo.WithRepository(repo))

	targets, err := parseStorageURLs(c.StorageURL)
	if err != nil {
		return nil, err
	}
	stores := make(map[string]simplevideo.BlobStore, len(targets))
	for _, target := range targets {
		store, err := b.buildStorageBackend(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", target.Bucket, err)
		}
		stores[target.Bucket] = store
		options = append(options, simplevideo.WithBlobStore(target.Bucket, store))
	}
	options = append(options, simplevideo.WithDefaultBucket(targets[0].Bucket))

	toolkit := media.New(media.Config{
		FfmpegBinPath:  c.Media.FfmpegPath,
		FfprobeBinPath: c.Media.FfprobePath,
	})
	options = append(options, simplevideo.WithProber(toolkit))
	if c.Media.ThumbnailsEnabled {
		options = append(options,
			simplevideo.WithFrameExtractor(toolkit),
			simplevideo.WithThumbnailSpec(simplevideo.ThumbnailSpec{
				Offset:  c.Media.ThumbnailOffset,
				Width:   c.Media.ThumbnailWidth,
				Height:  c.Media.ThumbnailHeight,
				BaseURL: c.Media.ThumbnailBaseURL,
				Timeout: c.Media.ThumbnailTimeout,
			}),
		)
	}

	distributor, err := b.buildDistributor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build distributor: %w", err)
	}
	if distributor != nil {
		options = append(options,
			simplevideo.WithDistributor(distributor),
			simplevideo.WithActivateOnSync(c.Sync.ActivateOnSync),
		)
	}

	svc, err := simplevideo.New(options...)
	if err != nil {
		return nil, err
	}

	comps := &Components{
		Service:       svc,
		Repository:    repo,
		BlobStores:    stores,
		DefaultBucket: targets[0].Bucket,
	}
	if c.JWTSecret != "" {
		if comps.Verifier, err = auth.NewHMACVerifier(c.JWTSecret); err != nil {
			return nil, err
		}
	}
	return comps, nil
}

func (b *builder) awsConfig(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	cfg, err := s3storage.LoadAWSConfig(ctx, b.cfg.AWS.Region, b.cfg.AWS.AccessKeyID, b.cfg.AWS.SecretAccessKey)
	if err != nil {
		return aws.Config{}, err
	}
	b.awsCfg = &cfg
	return cfg, nil
}

func (b *builder) buildRepository(ctx context.Context) (simplevideo.Repository, error) {
	target, err := parseDatabaseURL(b.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	switch target.Kind {
	case "memory":
		return memory.New(), nil

	case "postgres":
		pgCfg, err := pgxpool.ParseConfig(target.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := b.cfg.DBSchema
		pgCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		b.cleanups = append(b.cleanups, pool.Close)
		return repopg.NewWithPool(pool), nil

	case "mongo":
		connector := repomongo.NewConnector(target.URL, target.Database)
		b.cleanups = append(b.cleanups, func() {
			if err := connector.Close(context.Background()); err != nil {
				b.logger.Warn("failed to close mongo connection", "error", err)
			}
		})
		repo := repomongo.New(connector, target.Collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return repo, nil

	case "dynamodb":
		awsCfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		var opts []func(*dynamodb.Options)
		if endpoint := b.cfg.AWS.DynamoDBEndpoint; endpoint != "" {
			opts = append(opts, func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		return repodynamo.New(dynamodb.NewFromConfig(awsCfg, opts...), target.Table)
	}
	return nil, fmt.Errorf("unsupported database type: %s", target.Kind)
}

func (b *builder) buildStorageBackend(ctx context.Context, target storageTarget) (simplevideo.BlobStore, error) {
	switch target.Kind {
	case "memory":
		return memorystorage.New(target.Bucket), nil
	case "s3":
		region := target.Region
		if region == "" {
			region = b.cfg.AWS.Region
		}
		endpoint := target.Endpoint
		if endpoint == "" {
			endpoint = b.cfg.AWS.S3Endpoint
		}
		return s3storage.New(ctx, s3storage.Config{
			Region:          region,
			Bucket:          target.Bucket,
			AccessKeyID:     b.cfg.AWS.AccessKeyID,
			SecretAccessKey: b.cfg.AWS.SecretAccessKey,
			Endpoint:        endpoint,
			UsePathStyle:    target.PathStyle || b.cfg.AWS.S3UsePathStyle,
			PresignDuration: b.cfg.AWS.PresignDuration,
		})
	}
	return nil, fmt.Errorf("unsupported storage backend type: %s", target.Kind)
}

func (b *builder) buildDistributor(ctx context.Context) (simplevideo.Distributor, error) {
	target, err := parseComputeURL(b.cfg.ComputeURL)
	if err != nil {
		return nil, err
	}

	selector := simplevideo.TagSelector{Key: b.cfg.Sync.TagKey, Value: b.cfg.Sync.TagValue}

	var controller simplevideo.InstanceController
	switch target.Kind {
	case "none":
		return simplevideo.NewNoopDistributor(), nil
	case "memory":
		controller = computememory.New(selector, "i-local", target.Address)
	case "ec2":
		awsCfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		if target.Region != "" {
			awsCfg = awsCfg.Copy()
			awsCfg.Region = target.Region
		}
		controller = computeec2.NewFromConfig(awsCfg, b.cfg.AWS.EC2Endpoint)
	default:
		return nil, fmt.Errorf("unsupported compute type: %s", target.Kind)
	}

	syncCfg := b.syncerConfig()
	syncOpts := []simplevideo.SyncerOption{simplevideo.WithSyncLogger(b.logger)}
	locker, err := b.buildLocker(ctx, leaseTTL(syncCfg))
	if err != nil {
		return nil, err
	}
	if locker != nil {
		syncOpts = append(syncOpts, simplevideo.WithSyncLocker(locker))
	}

	return simplevideo.NewSyncer(controller, syncCfg, syncOpts...)
}

func (b *builder) syncerConfig() simplevideo.SyncerConfig {
	sc := b.cfg.Sync
	return simplevideo.SyncerConfig{
		Selector:        simplevideo.TagSelector{Key: sc.TagKey, Value: sc.TagValue},
		Namespace:       sc.Namespace,
		WebRoot:         sc.WebRoot,
		ServerService:   sc.ServerService,
		PollInterval:    sc.PollInterval,
		PollMaxInterval: sc.PollMaxInterval,
		PollMaxAttempts: sc.PollMaxAttempts,
	}
}

// leaseTTL outlasts the longest cycle so a live holder never loses the lease
func leaseTTL(cfg simplevideo.SyncerConfig) time.Duration {
	return cfg.CycleBound() + time.Minute
}

func (b *builder) buildLocker(ctx context.Context, ttl time.Duration) (simplevideo.Locker, error) {
	target, err := parseLockURL(b.cfg.LockURL)
	if err != nil {
		return nil, err
	}
	if target.Kind != "redis" {
		return nil, nil
	}
	client, err := lock.NewClientFromURL(ctx, target.URL)
	if err != nil {
		return nil, err
	}
	b.cleanups = append(b.cleanups, func() { _ = client.Close() })
	return lock.NewRedisLocker(client, lock.WithTTL(ttl)), nil
}

// NewQueueConsumer builds the SQS consumer feeding svc
func (c *ServerConfig) NewQueueConsumer(ctx context.Context, svc simplevideo.Service, logger *slog.Logger) (*sqsqueue.Consumer, error) {
	if c.QueueURL == "" {
		return nil, errors.New("QUEUE_URL is required")
	}
	awsCfg, err := s3storage.LoadAWSConfig(ctx, c.AWS.Region, c.AWS.AccessKeyID, c.AWS.SecretAccessKey)
	if err != nil {
		return nil, err
	}
	var opts []func(*sqs.Options)
	if endpoint := c.AWS.SQSEndpoint; endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return sqsqueue.NewConsumer(sqs.NewFromConfig(awsCfg, opts...), svc, sqsqueue.Config{
		QueueURL:          c.QueueURL,
		VisibilityTimeout: c.QueueVisibilityTimeout,
	}, logger)
}

func presignDuration(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}
