// Package pipeline runs one analysis job: the company and applicant
// analyses concurrently, then the comparison, publishing progress to the
// status store at every step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/fit-analyzer/internal/analysis"
	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/jobs"
	"github.com/spigell/fit-analyzer/internal/logger"
)

const (
	progressStarted    = 10
	progressPerStage   = 25
	progressComparison = 75
	progressCompleted  = 100

	stageParallel = "parallel_analysis"
	stageQueue    = "queue"
	stagePipeline = "pipeline"
)

// Pipeline is the orchestrator. It is the only writer of a job record once
// the job has been queued.
type Pipeline struct {
	store     jobs.Store
	company   analysis.Analyzer
	candidate analysis.Analyzer
	comparer  analysis.Comparer
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a pipeline over the given stage executors.
func New(store jobs.Store, company, candidate analysis.Analyzer, comparer analysis.Comparer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		company:   company,
		candidate: candidate,
		comparer:  comparer,
		logger:    logger.Named(log, "pipeline"),
		now:       time.Now,
	}
}

// Handle adapts Run to the worker queue.
func (p *Pipeline) Handle(ctx context.Context, task jobs.Task) {
	if err := p.Run(ctx, task.Token); err != nil {
		p.logger.Warn("job failed", zap.String(logger.FieldJobToken, task.Token), zap.Error(err))
	}
}

// Run executes the job identified by token to completion or failure. The
// returned error is the stage error already recorded on the job. A job that
// is not waiting in the queue is left untouched and a conflict is returned.
func (p *Pipeline) Run(ctx context.Context, token string) (err error) {
	// status writes must land even when ctx is cancelled
	writeCtx := context.WithoutCancel(ctx)
	log := p.logger.With(zap.String(logger.FieldJobToken, token))

	job, err := jobs.Update(writeCtx, p.store, token, func(j *jobs.Job) error {
		if j.Status != jobs.StatusPending || j.Step != jobs.StepQueued {
			return apperr.Conflict("job %s is %s/%s, not queued", token, j.Status, j.Step)
		}
		j.Status = jobs.StatusProcessing
		j.Step = jobs.StepParallelAnalysis
		j.Progress = progressStarted
		j.Message = "analyzing company and applicant"
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	defer p.release(writeCtx, token)

	stage := stageParallel
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(writeCtx, token, panicked(stage, r))
		}
	}()

	in := analysis.Input{Token: token, JDURL: job.JDURL, DocumentKeys: job.Documents}
	started := p.now()
	log.Info("job started", zap.Strings("documents", in.DocumentKeys))

	var company, candidate *analysis.StageResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := p.analyze(gctx, writeCtx, p.company, in)
		company = res
		return err
	})
	g.Go(func() error {
		res, err := p.analyze(gctx, writeCtx, p.candidate, in)
		candidate = res
		return err
	})
	if err := g.Wait(); err != nil {
		return p.fail(writeCtx, token, err)
	}

	stage = analysis.StageComparison
	if err := ctx.Err(); err != nil {
		return p.fail(writeCtx, token, cancelled(stage, err))
	}

	if _, err := p.transition(writeCtx, token, func(j *jobs.Job) {
		j.Step = jobs.StepComparison
		j.Progress = progressComparison
		j.Message = "comparing profiles"
	}); err != nil {
		return fmt.Errorf("mark job comparing: %w", err)
	}

	comparison, err := p.comparer.Compare(ctx, token, company, candidate)
	if err != nil {
		return p.fail(writeCtx, token, apperr.Classify(stage, err))
	}

	if _, err := p.transition(writeCtx, token, func(j *jobs.Job) {
		j.Status = jobs.StatusCompleted
		j.Step = jobs.StepCompleted
		j.Progress = progressCompleted
		j.Message = "analysis completed"
		j.Error = nil
		j.Result = &jobs.Result{Company: company, Candidate: candidate, CultureFit: comparison}
	}); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}

	fields := []zap.Field{zap.Duration("elapsed", p.now().Sub(started)), zap.String("band", comparison.Score.Band)}
	if comparison.Score.MatchScore != nil {
		fields = append(fields, zap.Int("match_score", *comparison.Score.MatchScore))
	}
	log.Info("job completed", fields...)
	return nil
}

// Abandon fails a queued job that the queue dropped without running it.
// Jobs that already left the queued state are not touched.
func (p *Pipeline) Abandon(ctx context.Context, task jobs.Task, cause error) {
	stageErr := &apperr.Error{Kind: apperr.KindUnavailable, Stage: stageQueue, Message: stageQueue + " failed", Err: cause}
	message := failureMessage(stageErr)

	_, err := jobs.Update(ctx, p.store, task.Token, func(j *jobs.Job) error {
		if j.Status != jobs.StatusPending {
			return apperr.Conflict("job %s is %s", task.Token, j.Status)
		}
		markFailed(j, stageErr, message)
		return nil
	})
	switch {
	case errors.Is(err, apperr.ErrConflict):
		return
	case err != nil:
		p.logger.Error("could not record dropped job", zap.String(logger.FieldJobToken, task.Token), zap.Error(err))
		return
	}

	logger.ForJob(p.logger, task.Token, stageQueue).Warn("job dropped before it ran", zap.Error(cause))
}

// analyze runs one analysis stage and reports its progress.
func (p *Pipeline) analyze(ctx, writeCtx context.Context, stage analysis.Analyzer, in analysis.Input) (res *analysis.StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, panicked(stage.Stage(), r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, cancelled(stage.Stage(), err)
	}

	res, err = stage.Analyze(ctx, in)
	if err != nil {
		return nil, apperr.Classify(stage.Stage(), err)
	}

	if _, err := p.transition(writeCtx, in.Token, func(j *jobs.Job) {
		j.Progress += progressPerStage
		j.Message = stage.Stage() + " finished"
	}); err != nil {
		return nil, apperr.Classify(stage.Stage(), err)
	}

	logger.ForJob(p.logger, in.Token, stage.Stage()).Info("stage finished", zap.String("profile_id", res.ID))
	return res, nil
}

func (p *Pipeline) transition(ctx context.Context, token string, fn func(*jobs.Job)) (*jobs.Job, error) {
	return jobs.Update(ctx, p.store, token, func(j *jobs.Job) error {
		fn(j)
		return nil
	})
}

// fail records err on the job and returns it.
func (p *Pipeline) fail(ctx context.Context, token string, err error) error {
	var stageErr *apperr.Error
	if !errors.As(err, &stageErr) || stageErr.Stage == "" {
		stageErr = apperr.Classify(stagePipeline, err)
	}
	message := failureMessage(stageErr)

	if _, werr := p.transition(ctx, token, func(j *jobs.Job) {
		markFailed(j, stageErr, message)
	}); werr != nil {
		p.logger.Error("could not record job failure", zap.String(logger.FieldJobToken, token), zap.Error(werr))
	}

	logger.ForJob(p.logger, token, stageErr.Stage).Error("job failed",
		zap.String("kind", string(stageErr.Kind)),
		zap.Error(stageErr.Err),
	)
	return stageErr
}

func failureMessage(stageErr *apperr.Error) string {
	var cause error = stageErr
	if stageErr.Err != nil {
		cause = stageErr.Err
	}
	return fmt.Sprintf("%s failed: %v", stageErr.Stage, cause)
}

func markFailed(j *jobs.Job, stageErr *apperr.Error, message string) {
	j.Status = jobs.StatusFailed
	j.Step = jobs.StepError
	j.Progress = 0
	j.Message = message
	j.Result = nil
	j.Error = &jobs.Failure{Kind: string(stageErr.Kind), Stage: stageErr.Stage, Message: message}
}

// release frees upstream resources held for the job. Failures are logged.
func (p *Pipeline) release(ctx context.Context, token string) {
	releasers := []interface {
		Release(ctx context.Context, token string) error
	}{p.company, p.candidate, p.comparer}

	for _, r := range releasers {
		if err := r.Release(ctx, token); err != nil {
			p.logger.Warn("could not release job resources", zap.String(logger.FieldJobToken, token), zap.Error(err))
		}
	}
}

func panicked(stage string, r any) *apperr.Error {
	return &apperr.Error{
		Kind:    apperr.KindStageFailure,
		Stage:   stage,
		Message: stage + " failed",
		Err:     fmt.Errorf("panic: %v", r),
	}
}

func cancelled(stage string, err error) *apperr.Error {
	return &apperr.Error{
		Kind:    apperr.KindStageFailure,
		Stage:   stage,
		Message: stage + " failed",
		Err:     err,
	}
}
