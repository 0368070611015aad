package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/share-recovery-backend/interfaces"
)

// S3Options configures an S3Backend. Region defaults to us-east-1. A
// custom Endpoint switches to path style addressing for S3 compatible
// services. Without static keys the SDK's default credential chain is used.
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Backend keeps archived content as objects under
// <prefix>/<type>s/<id>. Objects are written with server side encryption.
type S3Backend struct {
	client      *s3.S3
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

func NewS3Backend(bucket, prefix string, opts S3Options, log *slog.Logger) (*S3Backend, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	cfg := aws.NewConfig().WithRegion(opts.Region)
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	if opts.AccessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, ""))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}

	prefix = strings.Trim(prefix, "/")
	return &S3Backend{
		client:      s3.New(sess),
		bucket:      bucket,
		prefix:      prefix,
		log:         log.With("backend", "s3", "bucket", bucket),
		locationURI: s3LocationURI(bucket, prefix, opts),
	}, nil
}

// s3LocationURI never includes the secret key.
func s3LocationURI(bucket, prefix string, opts S3Options) string {
	var b strings.Builder
	b.WriteString("s3://")
	if opts.AccessKey != "" {
		b.WriteString(opts.AccessKey + ":***@")
	}
	fmt.Fprintf(&b, "%s/%s?region=%s", bucket, prefix, opts.Region)
	if opts.Endpoint != "" {
		b.WriteString("&endpoint=" + opts.Endpoint)
	}
	return b.String()
}

func (b *S3Backend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	key := b.objectKey(id, contentType)
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	switch {
	case isS3NotFound(err):
		return nil, interfaces.ErrContentNotFound
	case err != nil:
		b.log.Warn("s3 get failed", "key", key, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

func (b *S3Backend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	key := b.objectKey(id, contentType)

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(b.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("application/octet-stream"),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
	})
	if err != nil {
		return id, fmt.Errorf("s3 put %s: %w", key, err)
	}
	b.log.Debug("archived object", "key", key, "size", len(data))
	return id, nil
}

func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		b.log.Warn("s3 bucket unreachable", "err", err)
		return false
	}
	return true
}

func (b *S3Backend) Name() string { return "s3-" + b.bucket }

func (b *S3Backend) LocationURI() string { return b.locationURI }

func (b *S3Backend) objectKey(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(b.prefix, contentType.String()+"s", id.String())
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var awsErr awserr.Error
	return errors.As(err, &awsErr) && awsErr.Code() == s3.ErrCodeNoSuchKey
}
