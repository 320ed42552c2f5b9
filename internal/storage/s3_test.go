package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	pages    []*s3.ListObjectsV2Output
	listErr  error
	listed   []string
	body     string
	put      map[string]string
	putTypes map[string]string
}

func (f *fakeObjects) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.listed = append(f.listed, aws.ToString(params.Prefix))
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader(f.body)),
		ContentType: aws.String("application/pdf"),
	}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(params.Body)
	if f.put == nil {
		f.put = map[string]string{}
		f.putTypes = map[string]string{}
	}
	f.put[aws.ToString(params.Key)] = string(body)
	f.putTypes[aws.ToString(params.Key)] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct {
	expires time.Duration
	input   *s3.PutObjectInput
}

func (f *fakePresigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	f.expires = opts.Expires
	f.input = params
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + aws.ToString(params.Key) + "?sig=1", Method: "PUT"}, nil
}

func TestPresignUpload(t *testing.T) {
	presigner := &fakePresigner{}
	store := newS3(&fakeObjects{}, presigner, "uploads", 0, nil)

	upload, err := store.PresignUpload(context.Background(), "tok-1", "resume.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if upload.ObjectKey != "tok-1/resume.pdf" {
		t.Fatalf("unexpected key: %q", upload.ObjectKey)
	}
	if upload.UploadURL != "https://bucket.example/tok-1/resume.pdf?sig=1" {
		t.Fatalf("unexpected url: %q", upload.UploadURL)
	}
	if presigner.expires != time.Hour {
		t.Fatalf("expected default expiry of 1h, got %s", presigner.expires)
	}
	if aws.ToString(presigner.input.Bucket) != "uploads" || aws.ToString(presigner.input.ContentType) != "application/pdf" {
		t.Fatalf("unexpected presign input: %+v", presigner.input)
	}
}

func TestObjectKeyStripsDirectories(t *testing.T) {
	if got := ObjectKey("tok/", "../../etc/passwd"); got != "tok/passwd" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestListFollowsPages(t *testing.T) {
	modified := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	objects := &fakeObjects{pages: []*s3.ListObjectsV2Output{
		{
			Contents: []types.Object{
				{Key: aws.String("tok/"), Size: aws.Int64(0)},
				{Key: aws.String("tok/a.pdf"), Size: aws.Int64(10), LastModified: aws.Time(modified)},
			},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		{
			Contents:    []types.Object{{Key: aws.String("tok/b.pdf"), Size: aws.Int64(20)}},
			IsTruncated: aws.Bool(false),
		},
	}}

	store := newS3(objects, &fakePresigner{}, "uploads", time.Minute, nil)

	got, err := store.List(context.Background(), "tok/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 objects, got %d: %+v", len(got), got)
	}
	if got[0].Key != "tok/a.pdf" || got[0].Size != 10 || !got[0].LastModified.Equal(modified) {
		t.Fatalf("unexpected first object: %+v", got[0])
	}
	if got[1].Key != "tok/b.pdf" {
		t.Fatalf("unexpected second object: %+v", got[1])
	}
	if len(objects.listed) != 2 {
		t.Fatalf("expected 2 list calls, got %d", len(objects.listed))
	}
}

func TestListError(t *testing.T) {
	store := newS3(&fakeObjects{listErr: errors.New("denied")}, &fakePresigner{}, "uploads", 0, nil)

	if _, err := store.List(context.Background(), "tok/"); err == nil {
		t.Fatal("expected list error")
	}
}

func TestOpenAndPut(t *testing.T) {
	objects := &fakeObjects{body: "%PDF-1.7"}
	store := newS3(objects, &fakePresigner{}, "uploads", 0, nil)

	body, contentType, err := store.Open(context.Background(), "tok/a.pdf")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "%PDF-1.7" || contentType != "application/pdf" {
		t.Fatalf("unexpected object: %q %q", data, contentType)
	}

	key, err := store.Put(context.Background(), "manual", "cv.pdf", "application/pdf", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if key != "manual/cv.pdf" || objects.put[key] != "hello" || objects.putTypes[key] != "application/pdf" {
		t.Fatalf("unexpected put result: %q %+v", key, objects.put)
	}
}
