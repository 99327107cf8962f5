package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dmchat/internal/domain"
	"dmchat/internal/observability/metrics"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // empty for AWS, set for MinIO and friends
	AccessKey string
	SecretKey string
	PublicURL string // base URL the bucket is served from
	MaxBytes  int64
}

type S3Store struct {
	client    putObjectAPI
	bucket    string
	publicURL string
	maxBytes  int64
	now       func() time.Time
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		if cfg.Endpoint != "" {
			publicURL = fmt.Sprintf("%s/%s", cfg.Endpoint, cfg.Bucket)
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return newS3Store(client, cfg.Bucket, publicURL, cfg.MaxBytes), nil
}

func newS3Store(client putObjectAPI, bucket, publicURL string, maxBytes int64) *S3Store {
	return &S3Store{client: client, bucket: bucket, publicURL: publicURL, maxBytes: maxBytes, now: time.Now}
}

func (s *S3Store) Put(ctx context.Context, obj Object) (domain.Attachment, error) {
	name, mimeType, body, err := prepare(obj, s.maxBytes)
	if err != nil {
		metrics.BlobUploadsTotal.WithLabelValues("s3", "rejected").Inc()
		return domain.Attachment{}, err
	}

	key := objectKey(s.now().UTC(), name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(mimeType),
	})
	if err != nil {
		metrics.BlobUploadsTotal.WithLabelValues("s3", "error").Inc()
		return domain.Attachment{}, fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.BlobUploadsTotal.WithLabelValues("s3", "ok").Inc()
	return domain.Attachment{
		Filename: name,
		URL:      s.publicURL + "/" + key,
		MimeType: mimeType,
		Size:     int64(len(body)),
	}, nil
}
