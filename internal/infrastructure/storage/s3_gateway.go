// Package storage wraps the object store behind the small capability surface
// the rest of the service depends on: head, get, put, copy, delete,
// list-prefix and presigned single-object upload grants.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/infrastructure/metrics"
)

// ErrObjectNotFound is returned by Head and Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is the metadata returned by a head probe.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Grant is a presigned single-object upload descriptor. The URL is scoped to
// one PUT of one key and expires at ExpiresAt; Headers must accompany the
// upload request for the signature to hold.
type Grant struct {
	URL       string
	Headers   map[string]string
	ExpiresAt time.Time
}

// S3Gateway is the S3-compatible implementation of the capability surface.
type S3Gateway struct {
	bucket         string
	client         *s3.Client
	presign        *s3.PresignClient
	publicEndpoint string
	log            zerolog.Logger
}

func NewS3Gateway(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3Gateway, error) {
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

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})

	return &S3Gateway{
		bucket:         cfg.S3Bucket,
		client:         client,
		presign:        s3.NewPresignClient(client),
		publicEndpoint: cfg.S3PublicEndpoint,
		log:            log.With().Str("component", "s3-gateway").Logger(),
	}, nil
}

// Head probes object metadata without downloading the body.
func (g *S3Gateway) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	metrics.RecordS3Operation("head", statusOf(err), time.Since(start).Seconds())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("head %s: %w", key, err)
	}
	info := &ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	return info, nil
}

// Get opens the object body for reading.
func (g *S3Gateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	metrics.RecordS3Operation("get", statusOf(err), time.Since(start).Seconds())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Body, nil
}

// Put writes an object. cacheControl may be empty.
func (g *S3Gateway) Put(ctx context.Context, key string, body io.Reader, contentType, cacheControl string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if cacheControl != "" {
		input.CacheControl = aws.String(cacheControl)
	}
	start := time.Now()
	_, err := g.client.PutObject(ctx, input)
	metrics.RecordS3Operation("put", statusOf(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Copy duplicates an object within the bucket.
func (g *S3Gateway) Copy(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()
	_, err := g.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		CopySource: aws.String(g.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	metrics.RecordS3Operation("copy", statusOf(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (g *S3Gateway) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	metrics.RecordS3Operation("delete", statusOf(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListPrefix returns every object key under prefix.
func (g *S3Gateway) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		metrics.RecordS3Operation("list", statusOf(err), time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// PresignPut issues a time-limited grant for a single-object upload. The
// content type is part of the signature, so the uploader must send it back.
func (g *S3Gateway) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (*Grant, error) {
	start := time.Now()
	req, err := g.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	metrics.RecordPresign(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", key, err)
	}
	return &Grant{
		URL:       g.externalizeURL(req.URL),
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// externalizeURL rewrites an internal endpoint URL to the public one when a
// separate public endpoint is configured (browser-facing grants).
func (g *S3Gateway) externalizeURL(raw string) string {
	if g.publicEndpoint == "" || strings.TrimSpace(raw) == "" {
		return raw
	}
	target, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	external, err := url.Parse(g.publicEndpoint)
	if err != nil || external.Scheme == "" || external.Host == "" {
		return raw
	}
	target.Scheme = external.Scheme
	target.Host = external.Host
	return target.String()
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
