package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/splax/edgeship/internal/domain"
)

// S3Options configures the S3 artifact store.
type S3Options struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// objectPutter is the subset of the S3 API used by the store.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes artifact entries to an S3 compatible bucket.
type S3Store struct {
	api    objectPutter
	bucket string
}

// NewS3Store builds an S3 client from static credentials, or the default AWS credential
// chain when no keys are given.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}
	loaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &S3Store{api: client, bucket: bucket}, nil
}

// Put uploads one entry under its deployment key.
func (s *S3Store) Put(ctx context.Context, entry domain.ArtifactEntry) error {
	if s == nil || s.api == nil {
		return errors.New("s3 store not initialised")
	}
	if entry.Body == nil {
		return errors.New("artifact body is required")
	}
	contentType := entry.ContentType
	if contentType == "" {
		contentType = ContentType(entry.RelativePath)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(Key(entry.DeploymentID, entry.RelativePath)),
		Body:        entry.Body,
		ContentType: aws.String(contentType),
	}
	if entry.Size >= 0 {
		input.ContentLength = aws.Int64(entry.Size)
	}
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", aws.ToString(input.Key), err)
	}
	return nil
}
