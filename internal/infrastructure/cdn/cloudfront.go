// Package cdn wraps CDN cache invalidation. Invalidation failures are never
// fatal to a publish: the content is already correct in storage, staleness is
// acceptable.
package cdn

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
)

// Invalidator is the cache invalidation capability used by the processor.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}

// CloudFrontInvalidator invalidates paths on a CloudFront distribution.
type CloudFrontInvalidator struct {
	client         *cloudfront.Client
	distributionID string
	log            zerolog.Logger
}

// New returns a CloudFront invalidator, or a logging no-op when no
// distribution id is configured.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Invalidator, error) {
	logger := log.With().Str("component", "cdn").Logger()
	if cfg.CloudFrontDistributionID == "" {
		logger.Info().Msg("no CDN distribution configured, cache invalidation disabled")
		return &NoopInvalidator{log: logger}, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &CloudFrontInvalidator{
		client:         cloudfront.NewFromConfig(awsCfg),
		distributionID: cfg.CloudFrontDistributionID,
		log:            logger,
	}, nil
}

func (c *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	items := make([]string, len(paths))
	for i, p := range paths {
		if len(p) == 0 || p[0] != '/' {
			p = "/" + p
		}
		items[i] = p
	}

	_, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("tour-api-%d", time.Now().UnixNano())),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(items))),
				Items:    items,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create invalidation: %w", err)
	}
	c.log.Info().Strs("paths", items).Msg("cdn invalidation submitted")
	return nil
}

// NoopInvalidator logs and does nothing.
type NoopInvalidator struct {
	log zerolog.Logger
}

func (n *NoopInvalidator) Invalidate(_ context.Context, paths []string) error {
	n.log.Debug().Strs("paths", paths).Msg("cdn invalidation skipped (disabled)")
	return nil
}
