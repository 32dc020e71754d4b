package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the part of the S3 client the archive store uses.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store archives to S3 or a compatible server such as MinIO.
type S3Store struct {
	api      S3API
	uploader *manager.Uploader
}

// NewS3 loads the default AWS configuration. AWS_ENDPOINT_URL_S3 and
// AWS_S3_FORCE_PATH_STYLE point it at MinIO.
func NewS3(ctx context.Context) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := os.Getenv("AWS_ENDPOINT_URL_S3"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		o.UsePathStyle = strings.EqualFold(os.Getenv("AWS_S3_FORCE_PATH_STYLE"), "true")
	})
	return NewS3Store(client), nil
}

// NewS3Store wraps an existing client.
func NewS3Store(api S3API) *S3Store {
	return &S3Store{api: api, uploader: manager.NewUploader(api)}
}

func splitS3(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key = u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.New("s3 uri needs a bucket and a key")
	}
	return bucket, key, nil
}

func (s *S3Store) Get(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	bucket, key, err := splitS3(uri)
	if err != nil {
		return nil, 0, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", uri, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Put uploads body, in parts when it is large. The content type follows the
// key's extension.
func (s *S3Store) Put(ctx context.Context, uri string, body io.Reader) (string, error) {
	bucket, key, err := splitS3(uri)
	if err != nil {
		return "", err
	}
	in := &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key), Body: body}
	if ct := contentType(key); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return "", fmt.Errorf("put %s: %w", uri, err)
	}
	return uri, nil
}

func contentType(key string) string {
	ext := path.Ext(key)
	if ext == ".zip" {
		return "application/zip"
	}
	return mime.TypeByExtension(ext)
}
