package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/storage"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]storage.Object
	listErr error
}

func (f *fakeObjects) PresignUpload(ctx context.Context, prefix, fileName, contentType string) (*storage.PresignedUpload, error) {
	key := storage.ObjectKey(prefix, fileName)
	return &storage.PresignedUpload{FileName: fileName, ObjectKey: key, UploadURL: "https://s3/" + key, ContentType: contentType}, nil
}

func (f *fakeObjects) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.objects[prefix], nil
}

func (f *fakeObjects) Expiry() time.Duration { return time.Hour }

func (f *fakeObjects) put(token string, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]storage.Object)
	}
	for _, key := range keys {
		f.objects[token+"/"] = append(f.objects[token+"/"], storage.Object{Key: key, Size: 10})
	}
}

type fakeScheduler struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (f *fakeScheduler) Enqueue(ctx context.Context, token string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Task{}, f.err
	}
	f.tokens = append(f.tokens, token)
	return Task{Token: token}, nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeObjects, *fakeScheduler) {
	t.Helper()
	store := NewMemoryStore()
	objects := &fakeObjects{}
	scheduler := &fakeScheduler{}
	svc := NewService(store, objects, scheduler, ServiceConfig{PollInterval: 5 * time.Millisecond, MaxPollTimeout: time.Second}, zap.NewNop())
	svc.newToken = func() string { return "tok" }
	return svc, store, objects, scheduler
}

func TestSubmit(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, SubmitRequest{
		JDURL: "https://hh.ru/vacancy/1",
		Files: []File{{FileName: " cv.pdf ", ContentType: "application/pdf"}, {FileName: "essay.md"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token)
	assert.Equal(t, 3600, resp.ExpiresIn)
	require.Len(t, resp.PresignedURLs, 2)
	assert.Equal(t, "tok/cv.pdf", resp.PresignedURLs[0].ObjectKey)

	job, err := store.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, StepUpload, job.Step)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "https://hh.ru/vacancy/1", job.JDURL)
	assert.Equal(t, "cv.pdf", job.Files[0].FileName)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{name: "missing url", req: SubmitRequest{Files: []File{{FileName: "cv.pdf"}}}},
		{name: "relative url", req: SubmitRequest{JDURL: "/vacancy/1", Files: []File{{FileName: "cv.pdf"}}}},
		{name: "ftp url", req: SubmitRequest{JDURL: "ftp://example.com/x", Files: []File{{FileName: "cv.pdf"}}}},
		{name: "no files", req: SubmitRequest{JDURL: "https://example.com/job"}},
		{name: "path in name", req: SubmitRequest{JDURL: "https://example.com/job", Files: []File{{FileName: "../cv.pdf"}}}},
		{name: "duplicate names", req: SubmitRequest{JDURL: "https://example.com/job", Files: []File{{FileName: "cv.pdf"}, {FileName: "cv.pdf"}}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newTestService(t)
			_, err := svc.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestStart(t *testing.T) {
	svc, store, objects, scheduler := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "unknown")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, store.Create(ctx, pendingJob("tok")))

	_, err = svc.Start(ctx, "tok")
	require.ErrorIs(t, err, apperr.ErrPreconditionFailed)

	objects.put("tok", "tok/cv.pdf", "tok/essay.md")
	job, err := svc.Start(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, StepQueued, job.Step)
	assert.Equal(t, []string{"tok/cv.pdf", "tok/essay.md"}, job.Documents)
	assert.NotNil(t, job.StartedAt)
	assert.Equal(t, []string{"tok"}, scheduler.tokens)

	_, err = svc.Start(ctx, "tok")
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, scheduler.tokens, 1)
}

func TestStartRevertsWhenQueueFull(t *testing.T) {
	svc, store, objects, scheduler := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingJob("tok")))
	objects.put("tok", "tok/cv.pdf")
	scheduler.err = ErrQueueFull

	_, err := svc.Start(ctx, "tok")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	job, err := store.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, StepUpload, job.Step)
	assert.Empty(t, job.Documents)

	scheduler.err = nil
	_, err = svc.Start(ctx, "tok")
	require.NoError(t, err)
}

func TestPoll(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Poll(ctx, "unknown", 50*time.Millisecond)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, store.Create(ctx, pendingJob("tok")))

	start := time.Now()
	job, done, err := svc.Poll(ctx, "tok", 40*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StatusPending, job.Status)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = Update(context.Background(), store, "tok", func(j *Job) error {
			j.Status = StatusCompleted
			j.Step = StepCompleted
			j.Progress = 100
			j.Result = &Result{}
			return nil
		})
	}()

	job, done, err = svc.Poll(ctx, "tok", time.Second)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 100, job.Progress)
}

func TestPollHonorsCancellation(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	require.NoError(t, store.Create(context.Background(), pendingJob("tok")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	job, done, err := svc.Poll(ctx, "tok", time.Second)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "tok", job.Token)
}

func TestClampTimeout(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	assert.Equal(t, time.Second, svc.ClampTimeout(0))
	assert.Equal(t, 500*time.Millisecond, svc.ClampTimeout(500*time.Millisecond))
	assert.Equal(t, time.Second, svc.ClampTimeout(time.Hour))
}

func TestResult(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Result(ctx, "unknown")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, store.Create(ctx, pendingJob("tok")))
	job, err := svc.Result(ctx, "tok")
	require.ErrorIs(t, err, apperr.ErrConflict)
	require.NotNil(t, job)
	assert.Equal(t, StatusPending, job.Status)

	_, err = Update(ctx, store, "tok", func(j *Job) error {
		j.Status = StatusCompleted
		j.Result = &Result{}
		return nil
	})
	require.NoError(t, err)

	job, err = svc.Result(ctx, "tok")
	require.NoError(t, err)
	assert.NotNil(t, job.Result)
}

func TestFiles(t *testing.T) {
	svc, store, objects, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Files(ctx, "tok")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, store.Create(ctx, pendingJob("tok")))
	objects.put("tok", "tok/cv.pdf")
	files, err := svc.Files(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, files, 1)

	objects.listErr = errors.New("s3 down")
	_, err = svc.Files(ctx, "tok")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}
