package history

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory bucket that pages listings two keys at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	lists   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	var keys []string
	prefix := aws.ToString(in.Prefix)
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start = sort.SearchStrings(keys, tok)
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestS3_ListPagesAndPrefix(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	backend := NewS3(fake, "bucket", "app/")
	for g := uint64(1); g <= 5; g++ {
		if err := backend.Put(ctx, g, []byte{byte(g)}); err != nil {
			t.Fatal(err)
		}
	}
	// Neighbouring prefixes and nested keys are not part of the history.
	fake.objects["other/00000000000000000009.upd"] = []byte{9}
	fake.objects["app/nested/00000000000000000009.upd"] = []byte{9}
	fake.objects["app/readme"] = []byte{9}

	gens, err := backend.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	if !equalGens(gens, []uint64{1, 2, 3, 4, 5}) {
		t.Errorf("List() = %v, want [1 2 3 4 5]", gens)
	}
	if fake.lists < 3 {
		t.Errorf("ListObjectsV2 called %d times, want paging", fake.lists)
	}

	data, err := backend.Get(ctx, 3)
	if err != nil || !bytes.Equal(data, []byte{3}) {
		t.Errorf("Get(3) = %v, %v", data, err)
	}
	if _, err := backend.Get(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := backend.Delete(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Get(ctx, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestNewS3Client(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "aws")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AWS_CONFIG_FILE", empty)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", empty)
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "id")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "")

	ctx := context.Background()
	client, err := NewS3Client(ctx, "eu-west-1", "http://localhost:9000", true)
	if err != nil {
		t.Fatalf("NewS3Client() error = %v", err)
	}

	o := client.Options()
	if o.Region != "eu-west-1" {
		t.Errorf("Region = %q, want eu-west-1", o.Region)
	}
	if o.BaseEndpoint == nil || *o.BaseEndpoint != "http://localhost:9000" {
		t.Errorf("BaseEndpoint = %v", o.BaseEndpoint)
	}
	if !o.UsePathStyle {
		t.Error("UsePathStyle = false, want true")
	}
	creds, err := o.Credentials.Retrieve(ctx)
	if err != nil || creds.AccessKeyID != "id" || creds.SecretAccessKey != "secret" {
		t.Errorf("credentials = %+v, %v", creds, err)
	}
}
