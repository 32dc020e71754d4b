// Package iopkg opens and creates byte streams addressed by file:// or s3://
// URIs. Seed spreadsheets are read through it and run reports are written
// through it.
package iopkg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3iface is the subset of the s3 client used here; tests swap in fakes.
type s3iface interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var newS3Client = func(ctx context.Context) (s3iface, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// Open returns a ReadCloser and, when known, the size for file:// or s3://
// URIs. A bare path is a local file.
func Open(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, 0, err
	}
	switch u.Scheme {
	case "file", "":
		f, err := os.Open(strings.TrimPrefix(uri, "file://"))
		if err != nil {
			return nil, 0, err
		}
		var sz int64
		if st, _ := f.Stat(); st != nil {
			sz = st.Size()
		}
		return f, sz, nil
	case "s3":
		cl, err := newS3Client(ctx)
		if err != nil {
			return nil, 0, err
		}
		resp, err := cl.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(u.Host),
			Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
		})
		if err != nil {
			return nil, 0, err
		}
		var sz int64
		if resp.ContentLength != nil {
			sz = *resp.ContentLength
		}
		return resp.Body, sz, nil
	default:
		return nil, 0, errors.New("unsupported scheme: " + u.Scheme)
	}
}

// ReadAll loads a whole object. Spreadsheet readers need random access.
func ReadAll(ctx context.Context, uri string) ([]byte, error) {
	rc, _, err := Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// CreateWriter supports file:// and s3://. S3 writes are buffered and
// uploaded on Close.
func CreateWriter(ctx context.Context, uri string) (io.WriteCloser, error) {
	if strings.HasPrefix(uri, "file://") || !strings.Contains(uri, "://") {
		p := strings.TrimPrefix(uri, "file://")
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		return os.Create(p)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "s3" {
		return nil, errors.New("unsupported scheme for CreateWriter: " + u.Scheme)
	}
	return &s3Writer{ctx: ctx, bucket: u.Host, key: strings.TrimPrefix(u.Path, "/")}, nil
}

type s3Writer struct {
	bytes.Buffer
	ctx         context.Context
	bucket, key string
	done        bool
}

func (w *s3Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	cl, err := newS3Client(w.ctx)
	if err != nil {
		return err
	}
	_, err = cl.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.Bytes()),
	})
	return err
}
