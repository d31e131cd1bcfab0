package gateway

import (
	"bytes"
	"context"
	"errors"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/opencurate/releasehub/internal/domain"
	"github.com/opencurate/releasehub/internal/usecase"
)

// S3Store talks to an S3-compatible backend. It backs both the htsget
// manifest publication area and the s3 presigner.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
}

func NewS3Store(ctx context.Context, region string) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

func (s *S3Store) Head(ctx context.Context, bucket, key string) (usecase.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return usecase.ObjectInfo{}, domain.NotFoundError{Resource: "object"}
		}
		return usecase.ObjectInfo{}, err
	}

	info := usecase.ObjectInfo{}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	if out.ETag != nil {
		info.ETag = *out.ETag
	}
	return info, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	return err
}

// S3Presigner signs GET URLs for objects living in AWS S3.
type S3Presigner struct {
	presign *s3.PresignClient
}

func NewS3Presigner(store *S3Store) *S3Presigner {
	return &S3Presigner{presign: store.presign}
}

func (p *S3Presigner) Protocol() domain.Protocol { return domain.ProtocolS3 }

func (p *S3Presigner) Enabled() bool { return true }

func (p *S3Presigner) Presign(ctx context.Context, releaseKey, bucket, key string, expiry time.Duration) (string, error) {
	out, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(po *s3.PresignOptions) { po.Expires = expiry })
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// R2Presigner signs GET URLs for objects living in Cloudflare R2, which is
// S3-compatible behind an account endpoint with path-style addressing.
type R2Presigner struct {
	presign *s3.PresignClient
	enabled bool
}

func NewR2Presigner(ctx context.Context, endpoint, accessKeyID, secretAccessKey string) (*R2Presigner, error) {
	if endpoint == "" || accessKeyID == "" {
		return &R2Presigner{enabled: false}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &R2Presigner{
		presign: s3.NewPresignClient(client),
		enabled: true,
	}, nil
}

func (p *R2Presigner) Protocol() domain.Protocol { return domain.ProtocolR2 }

func (p *R2Presigner) Enabled() bool { return p.enabled }

func (p *R2Presigner) Presign(ctx context.Context, releaseKey, bucket, key string, expiry time.Duration) (string, error) {
	if !p.enabled {
		return "", domain.NotEnabledError{Mechanism: "r2 object signing"}
	}
	out, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(po *s3.PresignOptions) { po.Expires = expiry })
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// GSPresigner is registered so gs:// objects resolve to a deliberate
// not-enabled failure instead of an unhandled protocol. Actual signing needs
// a GCP service account, which this deployment does not carry yet.
type GSPresigner struct {
	enabled bool
}

func NewGSPresigner(enabled bool) *GSPresigner {
	return &GSPresigner{enabled: enabled}
}

func (p *GSPresigner) Protocol() domain.Protocol { return domain.ProtocolGS }

func (p *GSPresigner) Enabled() bool { return false }

func (p *GSPresigner) Presign(ctx context.Context, releaseKey, bucket, key string, expiry time.Duration) (string, error) {
	return "", domain.NotEnabledError{Mechanism: "gs object signing"}
}
