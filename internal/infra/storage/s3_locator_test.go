//go:build !integration

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ai-analysis-pipeline/internal/domain"
)

type mockHeader struct {
	HeadObjectFunc func(ctx context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
}

func (m *mockHeader) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return m.HeadObjectFunc(ctx, in)
}

type mockPresigner struct {
	gotKey    string
	gotExpiry time.Duration
}

func (m *mockPresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	m.gotKey, m.gotExpiry = *in.Key, opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + *in.Key + "?sig=1"}, nil
}

func TestS3Locator(t *testing.T) {
	ctx := context.Background()
	found := &mockHeader{HeadObjectFunc: func(ctx context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
		return &s3.HeadObjectOutput{}, nil
	}}

	t.Run("should presign existing objects with the configured expiry", func(t *testing.T) {
		p := &mockPresigner{}
		loc := newS3Locator(found, p, "videos", 15*time.Minute)

		url, err := loc.Locate(ctx, "/acct-1/match.mp4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.gotKey != "acct-1/match.mp4" || p.gotExpiry != 15*time.Minute {
			t.Errorf("unexpected presign input key=%q expiry=%v", p.gotKey, p.gotExpiry)
		}
		if url == "" {
			t.Error("expected a url")
		}
	})

	t.Run("should map missing objects to ErrNotFound", func(t *testing.T) {
		missing := &mockHeader{HeadObjectFunc: func(ctx context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, &types.NotFound{}
		}}
		_, err := newS3Locator(missing, &mockPresigner{}, "videos", 0).Locate(ctx, "nope.mp4")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should reject empty keys", func(t *testing.T) {
		_, err := newS3Locator(found, &mockPresigner{}, "videos", 0).Locate(ctx, "/")
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}
