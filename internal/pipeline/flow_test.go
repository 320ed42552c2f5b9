package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/analysis"
	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/jobs"
	"github.com/spigell/fit-analyzer/internal/storage"
)

type memoryObjects struct {
	mu   sync.Mutex
	keys []string
}

func (m *memoryObjects) PresignUpload(ctx context.Context, prefix, fileName, contentType string) (*storage.PresignedUpload, error) {
	key := storage.ObjectKey(prefix, fileName)
	return &storage.PresignedUpload{
		FileName:    fileName,
		ObjectKey:   key,
		UploadURL:   "https://bucket.example/" + key,
		ContentType: contentType,
	}, nil
}

func (m *memoryObjects) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []storage.Object
	for _, key := range m.keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.Object{Key: key, Size: 4})
		}
	}
	return out, nil
}

func (m *memoryObjects) Expiry() time.Duration { return time.Hour }

func (m *memoryObjects) upload(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
}

type flow struct {
	objects   *memoryObjects
	company   *fakeAnalyzer
	candidate *fakeAnalyzer
	comparer  *fakeComparer
	queue     *jobs.Queue
	service   *jobs.Service
}

func newFlow(t *testing.T) *flow {
	t.Helper()

	f := &flow{
		objects:   &memoryObjects{},
		company:   &fakeAnalyzer{stage: analysis.StageCompany},
		candidate: &fakeAnalyzer{stage: analysis.StageCandidate},
		comparer:  &fakeComparer{},
	}

	store := jobs.NewMemoryStore()
	p := New(store, f.company, f.candidate, f.comparer, zap.NewNop())
	f.queue = jobs.NewQueue(p.Handle, zap.NewNop(), jobs.WithWorkers(2), jobs.WithDropHandler(p.Abandon))
	t.Cleanup(func() { _ = f.queue.Shutdown(context.Background()) })

	f.service = jobs.NewService(store, f.objects, f.queue, jobs.ServiceConfig{
		PollInterval:   5 * time.Millisecond,
		MaxPollTimeout: 5 * time.Second,
	}, zap.NewNop())
	return f
}

func (f *flow) submit(t *testing.T) string {
	t.Helper()

	resp, err := f.service.Submit(context.Background(), jobs.SubmitRequest{
		JDURL: "https://hh.ru/vacancy/123",
		Files: []jobs.File{{FileName: "cv.pdf", ContentType: "application/pdf"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.PresignedURLs, 1)
	return resp.Token
}

func TestFlowCompletes(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()

	token := f.submit(t)

	_, err := f.service.Start(ctx, token)
	require.ErrorIs(t, err, apperr.ErrPreconditionFailed)

	f.objects.upload(token + "/cv.pdf")
	_, err = f.service.Start(ctx, token)
	require.NoError(t, err)

	job, done, err := f.service.Poll(ctx, token, 5*time.Second)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Nil(t, job.Error)
	require.NotNil(t, job.Result)

	ids := map[string]struct{}{
		job.Result.Company.ID:    {},
		job.Result.Candidate.ID:  {},
		job.Result.CultureFit.ID: {},
	}
	assert.Len(t, ids, 3)
	assert.NotContains(t, ids, "")

	result, err := f.service.Result(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, job.Result, result.Result)

	_, _, err = f.service.Poll(ctx, "unknown", time.Second)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFlowStageTimeoutFailsJob(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()

	f.company.err = apperr.Upstream("fetch job posting", context.DeadlineExceeded)
	f.candidate.delay = time.Second

	token := f.submit(t)
	f.objects.upload(token + "/cv.pdf")
	_, err := f.service.Start(ctx, token)
	require.NoError(t, err)

	job, done, err := f.service.Poll(ctx, token, 5*time.Second)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.Result)
	require.NotNil(t, job.Error)
	assert.Equal(t, analysis.StageCompany, job.Error.Stage)
	assert.Equal(t, string(apperr.KindUpstreamUnavailable), job.Error.Kind)

	_, err = f.service.Result(ctx, token)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, f.queue.Shutdown(context.Background()))
	assert.Equal(t, 0, f.comparer.called)
	assert.Equal(t, 1, f.company.released)
	assert.Equal(t, 1, f.candidate.released)
}
