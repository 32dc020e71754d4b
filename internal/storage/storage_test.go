package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestJoin(t *testing.T) {
	cases := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"s3://bucket/raw/", []string{"inlabs", "2024-05-02", "DO1.zip"}, "s3://bucket/raw/inlabs/2024-05-02/DO1.zip"},
		{"file:///tmp/arch", []string{"/inlabs/", "", "x.zip"}, "file:///tmp/arch/inlabs/x.zip"},
	}
	for _, c := range cases {
		if got := Join(c.prefix, c.parts...); got != c.want {
			t.Fatalf("Join(%q, %v) = %q, want %q", c.prefix, c.parts, got, c.want)
		}
	}
}

func TestLocalPutGet(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested")
	uri := "file://" + filepath.Join(dir, "a.zip")
	st := Local()
	if _, err := st.Put(ctx, uri, bytes.NewReader([]byte("zipbytes"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, size, err := st.Get(ctx, uri)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "zipbytes" || size != 8 {
		t.Fatalf("got %q size %d", b, size)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLocalPutKeepsNothingOnError(t *testing.T) {
	dir := t.TempDir()
	if _, err := Local().Put(context.Background(), "file://"+filepath.Join(dir, "b.zip"), failingReader{}); err == nil {
		t.Fatal("expected copy error")
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("partial archive left behind: %v", entries)
	}
}

func TestLocalRejectsS3(t *testing.T) {
	if _, err := Local().Put(context.Background(), "s3://bucket/key", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for an s3 uri")
	}
	if _, _, err := splitS3("s3://bucket"); err == nil {
		t.Fatal("expected invalid uri")
	}
}

type fakeS3 struct {
	manager.UploadAPIClient

	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[k] = b
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b)), ContentLength: aws.Int64(int64(len(b)))}, nil
}

func TestS3PutGet(t *testing.T) {
	ctx := context.Background()
	f := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	st := NewS3Store(f)
	uri := "s3://raw/inlabs/2024-05-02/DO1.zip"
	if _, err := st.Put(ctx, uri, strings.NewReader("PK")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := f.types["raw/inlabs/2024-05-02/DO1.zip"]; got != "application/zip" {
		t.Fatalf("content type %q", got)
	}
	rc, size, err := st.Get(ctx, uri)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	if b, _ := io.ReadAll(rc); string(b) != "PK" || size != 2 {
		t.Fatalf("got %q size %d", b, size)
	}
	if _, _, err := st.Get(ctx, "file:///tmp/x"); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	if st, err := Open(ctx, ""); err != nil || st != nil {
		t.Fatalf("empty prefix: %v %v", st, err)
	}
	if st, err := Open(ctx, "file:///var/lib/procsync"); err != nil || st == nil {
		t.Fatalf("file prefix: %v %v", st, err)
	}
	if _, err := Open(ctx, "/var/lib/procsync"); err == nil {
		t.Fatal("expected error for a bare path")
	}
}
