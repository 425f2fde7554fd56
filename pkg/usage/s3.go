package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

var (
	ErrInvalidConfig = errors.New("usage: bucket and region are required")
	ErrLoadConfig    = errors.New("usage: failed to load aws config")
	ErrListObjects   = errors.New("usage: failed to list tenant objects")
)

// S3Config selects the bucket. Tenant files live under Prefix + tenant id + "/".
type S3Config struct {
	Bucket         string `env:"S3_BUCKET"`
	Region         string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"S3_SECRET_KEY"`
	Endpoint       string `env:"S3_ENDPOINT"` // S3-compatible services
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	Prefix         string `env:"S3_TENANT_PREFIX" envDefault:"tenants/"`
}

// S3Meter implements billing.StorageMeter by summing object sizes.
type S3Meter struct {
	client s3.ListObjectsV2APIClient
	bucket string
	prefix string
}

var _ billing.StorageMeter = (*S3Meter)(nil)

// S3Option configures NewS3Meter.
type S3Option func(*s3Options)

type s3Options struct {
	client        s3.ListObjectsV2APIClient
	configOptions []func(*config.LoadOptions) error
}

// WithS3Client uses client instead of building one from the config.
func WithS3Client(client s3.ListObjectsV2APIClient) S3Option {
	return func(o *s3Options) {
		o.client = client
	}
}

// WithS3ConfigOption adds an AWS config loader option.
func WithS3ConfigOption(opt func(*config.LoadOptions) error) S3Option {
	return func(o *s3Options) {
		o.configOptions = append(o.configOptions, opt)
	}
}

func NewS3Meter(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Meter, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	o := &s3Options{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		loadOpts = append(loadOpts, o.configOptions...)

		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Meter{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// StorageUsed sums every object under the tenant's prefix.
// Directory markers (keys ending in "/") are not counted as files.
func (m *S3Meter) StorageUsed(ctx context.Context, tenantID uuid.UUID) (billing.StorageUsage, error) {
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix + tenantID.String() + "/"),
	})

	var usage billing.StorageUsage
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return billing.StorageUsage{}, errors.Join(ErrListObjects, err)
		}
		for _, obj := range page.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), "/") {
				continue
			}
			usage.Bytes += aws.ToInt64(obj.Size)
			usage.Files++
		}
	}
	return usage, nil
}
