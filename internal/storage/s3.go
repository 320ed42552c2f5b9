// Package storage issues upload URLs for job documents and reads them back
// from S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const defaultPresignExpiry = time.Hour

// Config describes the bucket and credentials.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PresignExpiry   time.Duration
}

// Object is a stored document.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// PresignedUpload is a URL a client can PUT a file to.
type PresignedUpload struct {
	FileName    string `json:"file_name"`
	ObjectKey   string `json:"object_key"`
	UploadURL   string `json:"upload_url"`
	ContentType string `json:"content_type,omitempty"`
}

type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 implements object storage on top of the AWS SDK.
type S3 struct {
	client    objectAPI
	presigner presignAPI
	bucket    string
	expiry    time.Duration
	logger    *zap.Logger
}

// NewS3 builds an S3 client from the default AWS config chain. Static
// credentials and a custom endpoint are applied when configured.
func NewS3(ctx context.Context, cfg Config, logger *zap.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignExpiry, logger), nil
}

func newS3(client objectAPI, presigner presignAPI, bucket string, expiry time.Duration, logger *zap.Logger) *S3 {
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3{client: client, presigner: presigner, bucket: bucket, expiry: expiry, logger: logger}
}

// Expiry returns how long issued upload URLs stay valid.
func (s *S3) Expiry() time.Duration {
	return s.expiry
}

// ObjectKey joins a prefix and a file name into an object key.
func ObjectKey(prefix, fileName string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + path.Base(fileName)
}

// PresignUpload issues a PUT URL for prefix/fileName.
func (s *S3) PresignUpload(ctx context.Context, prefix, fileName, contentType string) (*PresignedUpload, error) {
	key := ObjectKey(prefix, fileName)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("presign upload %s: %w", key, err)
	}

	s.logger.Debug("issued presigned upload", zap.String("key", key), zap.Duration("expiry", s.expiry))

	return &PresignedUpload{
		FileName:    fileName,
		ObjectKey:   key,
		UploadURL:   req.URL,
		ContentType: contentType,
	}, nil
}

// List returns every object under prefix, following continuation pages.
func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	objects := make([]Object, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}

		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, Object{
				Key:          key,
				Size:         aws.ToInt64(item.Size),
				LastModified: aws.ToTime(item.LastModified),
			})
		}
	}

	return objects, nil
}

// Open streams an object. The caller closes the reader.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get object %s: %w", key, err)
	}

	return out.Body, aws.ToString(out.ContentType), nil
}

// Put uploads r as prefix/fileName and returns the object key.
func (s *S3) Put(ctx context.Context, prefix, fileName, contentType string, r io.Reader) (string, error) {
	key := ObjectKey(prefix, fileName)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Info("stored object", zap.String("key", key))
	return key, nil
}
