package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ai-analysis-pipeline/internal/config"
	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
)

var _ adapter.VideoLocator = (*S3Locator)(nil)

const defaultPresignExpiry = time.Hour

type objectHeader interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Locator hands the vision backend a short-lived GET URL for an uploaded
// video.
type S3Locator struct {
	head    objectHeader
	presign objectPresigner
	bucket  string
	expiry  time.Duration
}

// NewS3Locator loads credentials from the default AWS chain. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Locator(ctx context.Context, cfg config.StorageConfig) (*S3Locator, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: storage bucket is required", domain.ErrInvalidArgument)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}
	return newS3Locator(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignExpiry), nil
}

func newS3Locator(head objectHeader, presign objectPresigner, bucket string, expiry time.Duration) *S3Locator {
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &S3Locator{head: head, presign: presign, bucket: bucket, expiry: expiry}
}

// Locate returns domain.ErrNotFound when the object does not exist.
func (l *S3Locator) Locate(ctx context.Context, storageKey string) (string, error) {
	key := strings.TrimPrefix(storageKey, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty storage key", domain.ErrInvalidArgument)
	}

	if _, err := l.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	}); err != nil {
		var nf *types.NotFound
		var nsk *types.NoSuchKey
		if errors.As(err, &nf) || errors.As(err, &nsk) {
			return "", fmt.Errorf("video %q: %w", key, domain.ErrNotFound)
		}
		return "", fmt.Errorf("head object: %w", err)
	}

	req, err := l.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(l.expiry))
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return req.URL, nil
}
