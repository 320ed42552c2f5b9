package analysis

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/llmjson"
	"github.com/spigell/fit-analyzer/internal/logger"
	"github.com/spigell/fit-analyzer/internal/repository"

	"go.uber.org/zap"
)

const maxPageRunes = 50000

//go:embed prompts/company.md
var companyPrompt string

// CompanyAnalyzer builds a company profile from a job posting URL.
type CompanyAnalyzer struct {
	runner  modelRunner
	pages   PageFetcher
	timeout time.Duration
}

// NewCompanyAnalyzer returns an analyzer that reads postings through pages.
func NewCompanyAnalyzer(opts Options, pages PageFetcher) *CompanyAnalyzer {
	return &CompanyAnalyzer{
		runner:  newRunner(opts),
		pages:   pages,
		timeout: opts.Timeout,
	}
}

func (a *CompanyAnalyzer) Stage() string { return StageCompany }

func (a *CompanyAnalyzer) Analyze(ctx context.Context, in Input) (*StageResult, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	url := strings.TrimSpace(in.JDURL)
	if url == "" {
		return nil, apperr.InvalidInput("job posting url is empty")
	}

	text, err := a.pages.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Upstream("job posting page has no readable text", nil)
	}
	if runes := []rune(text); len(runes) > maxPageRunes {
		text = string(runes[:maxPageRunes])
	}

	message := render(companyPrompt, map[string]string{
		"JD_URL":  url,
		"JD_TEXT": text,
	})

	payload, err := a.runner.structured(ctx, in.Token, StageCompany, llmjson.SchemaCompany, message)
	if err != nil {
		return nil, err
	}

	source := Source{Type: SourceJDURL, URL: url}
	id, err := a.runner.persist(ctx, repository.CollectionCompanies, payload, source)
	if err != nil {
		return nil, err
	}

	logger.ForJob(a.runner.logger, in.Token, StageCompany).Info("company profile stored",
		zap.String("profile_id", id),
		zap.String("company_name", metaOf(payload).CompanyName),
	)

	return &StageResult{ID: id, Source: source, Profile: payload}, nil
}

// Release is a no-op: company analysis stages nothing upstream.
func (a *CompanyAnalyzer) Release(context.Context, string) error { return nil }
