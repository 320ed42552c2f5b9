package jobs

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/logger"
	"github.com/spigell/fit-analyzer/internal/storage"
	"github.com/spigell/fit-analyzer/internal/utils"
)

const (
	defaultPollTimeout    = 30 * time.Second
	defaultMaxPollTimeout = 120 * time.Second
	defaultPollInterval   = time.Second
)

// ObjectStore is the part of object storage the service needs.
type ObjectStore interface {
	PresignUpload(ctx context.Context, prefix, fileName, contentType string) (*storage.PresignedUpload, error)
	List(ctx context.Context, prefix string) ([]storage.Object, error)
	Expiry() time.Duration
}

// Scheduler accepts started jobs.
type Scheduler interface {
	Enqueue(ctx context.Context, token string) (Task, error)
}

// ServiceConfig tunes polling.
type ServiceConfig struct {
	PollInterval   time.Duration
	MaxPollTimeout time.Duration
}

// Service implements the job lifecycle behind the HTTP endpoints.
type Service struct {
	store     Store
	objects   ObjectStore
	scheduler Scheduler
	cfg       ServiceConfig
	logger    *zap.Logger
	newToken  func() string
	now       func() time.Time
}

// NewService wires the job service.
func NewService(store Store, objects ObjectStore, scheduler Scheduler, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollTimeout <= 0 {
		cfg.MaxPollTimeout = defaultMaxPollTimeout
	}
	return &Service{
		store:     store,
		objects:   objects,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger,
		newToken:  func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

// SubmitRequest announces a job posting and the documents to upload.
type SubmitRequest struct {
	JDURL string `json:"jd_url"`
	Files []File `json:"files"`
}

// SubmitResponse hands out the token and upload URLs.
type SubmitResponse struct {
	Token         string                    `json:"result_key"`
	PresignedURLs []storage.PresignedUpload `json:"presigned_urls"`
	ExpiresIn     int                       `json:"expires_in"`
}

// Submit creates a job waiting for uploads.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	jdURL, err := validateJDURL(req.JDURL)
	if err != nil {
		return nil, err
	}
	files, err := validateFiles(req.Files)
	if err != nil {
		return nil, err
	}

	token := s.newToken()
	uploads := make([]storage.PresignedUpload, 0, len(files))
	for _, f := range files {
		upload, err := s.objects.PresignUpload(ctx, token, f.FileName, f.ContentType)
		if err != nil {
			return nil, apperr.Upstream("issue upload url", err)
		}
		uploads = append(uploads, *upload)
	}

	job := &Job{
		Token:    token,
		Status:   StatusPending,
		Step:     StepUpload,
		Progress: 0,
		Message:  "waiting for document upload",
		JDURL:    jdURL,
		Files:    files,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job created", zap.String(logger.FieldJobToken, token), zap.String("jd_url", jdURL), zap.Int("files", len(files)))

	return &SubmitResponse{
		Token:         token,
		PresignedURLs: uploads,
		ExpiresIn:     int(s.objects.Expiry().Seconds()),
	}, nil
}

// Start queues an uploaded job for analysis. A job can be started once.
func (s *Service) Start(ctx context.Context, token string) (*Job, error) {
	if _, err := s.store.Get(ctx, token); err != nil {
		return nil, err
	}

	objects, err := s.objects.List(ctx, prefix(token))
	if err != nil {
		return nil, apperr.Upstream("list uploaded documents", err)
	}
	if len(objects) == 0 {
		return nil, apperr.PreconditionFailed("no documents uploaded for %s", token)
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}

	started := s.now().UTC()
	job, err := Update(ctx, s.store, token, func(j *Job) error {
		if j.Status != StatusPending || j.Step != StepUpload {
			return apperr.Conflict("job %s is already %s/%s", token, j.Status, j.Step)
		}
		j.Step = StepQueued
		j.Message = "queued for analysis"
		j.Documents = keys
		j.StartedAt = &started
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.scheduler.Enqueue(ctx, token); err != nil {
		s.logger.Warn("could not queue job", zap.String(logger.FieldJobToken, token), zap.Error(err))
		if _, revertErr := Update(context.WithoutCancel(ctx), s.store, token, func(j *Job) error {
			if j.Step != StepQueued {
				return nil
			}
			j.Step = StepUpload
			j.Message = "waiting for document upload"
			j.Documents = nil
			j.StartedAt = nil
			return nil
		}); revertErr != nil {
			s.logger.Error("could not revert job after queue rejection", zap.String(logger.FieldJobToken, token), zap.Error(revertErr))
		}
		if errors.Is(err, ErrQueueFull) {
			return nil, apperr.Unavailable("queue is full", err)
		}
		return nil, apperr.Unavailable("queue is not accepting jobs", err)
	}

	s.logger.Info("job queued", zap.String(logger.FieldJobToken, token), zap.Strings("documents", keys))
	return job, nil
}

// Poll waits up to timeout for the job to reach a terminal state. It
// returns the latest record and whether it is terminal.
func (s *Service) Poll(ctx context.Context, token string, timeout time.Duration) (*Job, bool, error) {
	timeout = s.ClampTimeout(timeout)

	var latest *Job
	done, err := utils.PollUntil(ctx, s.cfg.PollInterval, timeout, func(ctx context.Context) (bool, error) {
		job, err := s.store.Get(ctx, token)
		if err != nil {
			return false, err
		}
		latest = job
		return job.Status.Terminal(), nil
	})
	if err != nil {
		if latest != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return latest, false, nil
		}
		return nil, false, err
	}
	return latest, done, nil
}

// ClampTimeout applies the default and the upper bound to a poll timeout.
func (s *Service) ClampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	if timeout > s.cfg.MaxPollTimeout {
		timeout = s.cfg.MaxPollTimeout
	}
	return timeout
}

// Result returns a completed job. For any other state the job is returned
// together with a conflict error.
func (s *Service) Result(ctx context.Context, token string) (*Job, error) {
	job, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted || job.Result == nil {
		return job, apperr.Conflict("job %s is %s", token, job.Status)
	}
	return job, nil
}

// Files lists the documents uploaded for a job.
func (s *Service) Files(ctx context.Context, token string) ([]storage.Object, error) {
	if _, err := s.store.Get(ctx, token); err != nil {
		return nil, err
	}
	objects, err := s.objects.List(ctx, prefix(token))
	if err != nil {
		return nil, apperr.Upstream("list uploaded documents", err)
	}
	return objects, nil
}

func prefix(token string) string {
	return token + "/"
}

func validateJDURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.InvalidInput("jd_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperr.InvalidInput("jd_url must be an absolute http(s) url")
	}
	return raw, nil
}

func validateFiles(files []File) ([]File, error) {
	if len(files) == 0 {
		return nil, apperr.InvalidInput("at least one file is required")
	}
	out := make([]File, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for i, f := range files {
		name := strings.TrimSpace(f.FileName)
		switch {
		case name == "":
			return nil, apperr.InvalidInput("files[%d].file_name is required", i)
		case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
			return nil, apperr.InvalidInput("files[%d].file_name must be a plain file name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, apperr.InvalidInput("duplicate file name %q", name)
		}
		seen[name] = struct{}{}
		out = append(out, File{FileName: name, ContentType: strings.TrimSpace(f.ContentType)})
	}
	return out, nil
}

