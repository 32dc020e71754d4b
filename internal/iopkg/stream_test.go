package iopkg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string][]byte
	puts    int
	getErr  error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	cl := int64(len(b))
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b)), ContentLength: &cl}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func withFakeS3(t *testing.T) *fakeS3 {
	t.Helper()
	f := &fakeS3{objects: map[string][]byte{}}
	old := newS3Client
	newS3Client = func(context.Context) (s3iface, error) { return f, nil }
	t.Cleanup(func() { newS3Client = old })
	return f
}

func TestReadAllFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sancoes.csv")
	if err := os.WriteFile(p, []byte("cnpj;nome\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, uri := range []string{p, "file://" + p} {
		b, err := ReadAll(context.Background(), uri)
		if err != nil {
			t.Fatalf("ReadAll(%q): %v", uri, err)
		}
		if string(b) != "cnpj;nome\n" {
			t.Fatalf("content mismatch: %q", b)
		}
	}
}

func TestCreateWriterFileMakesDirs(t *testing.T) {
	p := filepath.Join(t.TempDir(), "reports", "run.json")
	w, err := CreateWriter(context.Background(), "file://"+p)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	_, _ = w.Write([]byte("{}"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "{}" {
		t.Fatalf("file content: %q", b)
	}
}

func TestS3RoundTrip(t *testing.T) {
	f := withFakeS3(t)
	ctx := context.Background()
	w, err := CreateWriter(ctx, "s3://fixtures/seed/questoes.xlsx")
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	_, _ = w.Write([]byte("payload"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = w.Close()
	if f.puts != 1 {
		t.Fatalf("puts = %d", f.puts)
	}
	rc, sz, err := Open(ctx, "s3://fixtures/seed/questoes.xlsx")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "payload" || sz != 7 {
		t.Fatalf("got %q (%d)", b, sz)
	}
}

func TestUnsupportedScheme(t *testing.T) {
	if _, _, err := Open(context.Background(), "gs://bucket/x"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := CreateWriter(context.Background(), "gs://bucket/x"); err == nil {
		t.Fatal("expected error")
	}
}
