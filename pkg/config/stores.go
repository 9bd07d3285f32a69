package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/store/badger"
	"github.com/marmos91/dittomds/pkg/store/memory"
	s3store "github.com/marmos91/dittomds/pkg/store/s3"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// s3YAMLConfig represents S3 configuration loaded from YAML files.
type s3YAMLConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// CreateStore creates an attribute store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/memory (B-tree backed, ephemeral)
//   - "badger": Uses pkg/store/badger (BadgerDB storage, persistent)
//   - "s3": Uses pkg/store/s3 (Amazon S3 or compatible storage)
//
// m may be nil.
func CreateStore(ctx context.Context, cfg *StoreConfig, m metrics.StoreMetrics) (store.Store, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryStore(ctx, cfg.Memory, m)
	case "badger":
		return createBadgerStore(ctx, cfg.Badger, m)
	case "s3":
		return createS3Store(ctx, cfg.S3, m)
	default:
		return nil, fmt.Errorf("unknown store type: %q (supported: memory, badger, s3)", cfg.Type)
	}
}

// createMemoryStore creates an in-memory attribute store.
func createMemoryStore(ctx context.Context, options map[string]any, m metrics.StoreMetrics) (store.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var storeCfg memory.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory store config: %w", err)
	}

	return memory.New(storeCfg, m), nil
}

// createBadgerStore creates a BadgerDB-based persistent attribute store.
func createBadgerStore(ctx context.Context, options map[string]any, m metrics.StoreMetrics) (store.Store, error) {
	var storeCfg badger.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &storeCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode badger store config: %w", err)
	}

	if !storeCfg.InMemory && storeCfg.DBPath == "" {
		return nil, fmt.Errorf("badger store: db_path is required")
	}

	st, err := badger.New(ctx, storeCfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger store: %w", err)
	}
	return st, nil
}

// createS3Store creates an S3-based attribute store.
func createS3Store(ctx context.Context, options map[string]any, m metrics.StoreMetrics) (store.Store, error) {
	var storeCfg s3YAMLConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 store: region is required")
	}

	client, err := newS3Client(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	st, err := s3store.New(ctx, s3store.Config{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
		Metrics:   metrics.NewS3Metrics(),
	}, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 store: %w", err)
	}

	logger.Info("S3 attribute store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return st, nil
}

// newS3Client builds the S3 client: static credentials when both keys
// are set, the default credential chain otherwise.
func newS3Client(ctx context.Context, storeCfg s3YAMLConfig) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Attribute writes are small and latency bound; retry transient
	// failures (502, 503, timeouts) a few more times than the SDK default.
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if storeCfg.Endpoint != "" {
			// MinIO, Localstack and other S3-compatible endpoints
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
		if storeCfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// ProvisionObjects creates the configured objects that do not exist yet.
func ProvisionObjects(ctx context.Context, st store.ObjectStore, objects []string) error {
	created := 0
	for _, s := range objects {
		f, err := fid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid object %q: %w", s, err)
		}

		err = st.CreateObject(ctx, f)
		if xattr.IsCode(err, xattr.ErrExists) {
			logger.Debug("Object %s already exists, skipping creation", f)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to provision object %s: %w", f, err)
		}
		created++
	}

	if len(objects) > 0 {
		logger.Info("Provisioned %d of %d configured object(s)", created, len(objects))
	}
	return nil
}
