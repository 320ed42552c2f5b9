package analysis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/spigell/fit-analyzer/internal/ai"
	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/llmjson"
	"github.com/spigell/fit-analyzer/internal/logger"
	"github.com/spigell/fit-analyzer/internal/repository"

	"go.uber.org/zap"
)

//go:embed prompts/candidate.md
var candidatePrompt string

// CandidateAnalyzer builds an applicant profile from uploaded documents.
// Documents are staged with the model provider for the lifetime of a job
// and removed by Release.
type CandidateAnalyzer struct {
	runner  modelRunner
	objects ObjectReader
	stager  ai.FileStager
	timeout time.Duration

	mu     sync.Mutex
	staged map[string][]string
}

// NewCandidateAnalyzer returns an analyzer reading documents from objects.
func NewCandidateAnalyzer(opts Options, objects ObjectReader, stager ai.FileStager) *CandidateAnalyzer {
	return &CandidateAnalyzer{
		runner:  newRunner(opts),
		objects: objects,
		stager:  stager,
		timeout: opts.Timeout,
		staged:  make(map[string][]string),
	}
}

func (a *CandidateAnalyzer) Stage() string { return StageCandidate }

func (a *CandidateAnalyzer) Analyze(ctx context.Context, in Input) (*StageResult, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	if len(in.DocumentKeys) == 0 {
		return nil, apperr.PreconditionFailed("no documents uploaded for %s", in.Token)
	}

	docs := make([]ai.Document, 0, len(in.DocumentKeys))
	names := make([]string, 0, len(in.DocumentKeys))
	for _, key := range in.DocumentKeys {
		doc, err := a.stage(ctx, in.Token, key)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
		names = append(names, path.Base(key))
	}

	message := render(candidatePrompt, map[string]string{
		"DOCUMENTS": strings.Join(names, ", "),
	})

	payload, err := a.runner.structured(ctx, in.Token, StageCandidate, llmjson.SchemaCandidate, message, docs...)
	if err != nil {
		return nil, err
	}

	source := Source{Type: SourceS3, Keys: append([]string(nil), in.DocumentKeys...)}
	id, err := a.runner.persist(ctx, repository.CollectionCandidates, payload, source)
	if err != nil {
		return nil, err
	}

	logger.ForJob(a.runner.logger, in.Token, StageCandidate).Info("applicant profile stored",
		zap.String("profile_id", id),
		zap.String("candidate_name", metaOf(payload).CandidateName),
		zap.Int("documents", len(docs)),
	)

	return &StageResult{ID: id, Source: source, Profile: payload}, nil
}

func (a *CandidateAnalyzer) stage(ctx context.Context, token, key string) (*ai.Document, error) {
	body, contentType, err := a.objects.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", key, err)
	}
	defer body.Close()

	doc, err := a.stager.UploadFile(ctx, body, path.Base(key), contentType)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.staged[token] = append(a.staged[token], doc.Name)
	a.mu.Unlock()

	return doc, nil
}

// Release removes every document staged for token. Errors are joined so
// one failed delete does not keep the rest.
func (a *CandidateAnalyzer) Release(ctx context.Context, token string) error {
	a.mu.Lock()
	names := a.staged[token]
	delete(a.staged, token)
	a.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := a.stager.DeleteFile(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete staged file %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
