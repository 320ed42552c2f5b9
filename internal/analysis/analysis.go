// Package analysis implements the model-backed pipeline stages: company
// analysis from a job posting, applicant analysis from uploaded documents,
// and their comparison.
package analysis

import (
	"context"
	"io"
	"time"

	"github.com/spigell/fit-analyzer/internal/ai"
	"github.com/spigell/fit-analyzer/internal/llmjson"

	"go.uber.org/zap"
)

// Stage names as recorded in job status and error messages.
const (
	StageCompany    = "company_analysis"
	StageCandidate  = "applicant_analysis"
	StageComparison = "comparison"
)

// Source types recorded as provenance.
const (
	SourceJDURL = "jd_url"
	SourceS3    = "s3"
)

// Input carries what a job knows about its subjects.
type Input struct {
	Token        string
	JDURL        string
	DocumentKeys []string
}

// Source records where a profile came from.
type Source struct {
	Type string   `json:"type" bson:"type"`
	URL  string   `json:"url,omitempty" bson:"url,omitempty"`
	Keys []string `json:"keys,omitempty" bson:"keys,omitempty"`
}

// StageResult is the output of one analysis stage. It is not modified after
// it is returned.
type StageResult struct {
	ID      string         `json:"id"`
	Source  Source         `json:"source"`
	Profile map[string]any `json:"profile"`
}

// Comparison is the output of the compare stage.
type Comparison struct {
	ID          string         `json:"id"`
	CompanyID   string         `json:"company_id"`
	CandidateID string         `json:"candidate_id"`
	Score       Score          `json:"score"`
	Payload     map[string]any `json:"payload"`
}

// Analyzer turns job input into one profile.
type Analyzer interface {
	Stage() string
	Analyze(ctx context.Context, in Input) (*StageResult, error)
	Release(ctx context.Context, token string) error
}

// Comparer compares a company profile with an applicant profile.
type Comparer interface {
	Compare(ctx context.Context, token string, company, candidate *StageResult) (*Comparison, error)
	Release(ctx context.Context, token string) error
}

// Recorder persists stage outputs and returns their storage id.
type Recorder interface {
	Create(ctx context.Context, collection string, doc map[string]any) (string, error)
}

// PageFetcher returns the readable text of a web page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ObjectReader streams uploaded documents.
type ObjectReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// Options are shared by all stage executors.
type Options struct {
	Generator    ai.Generator
	Validator    *llmjson.Validator
	Records      Recorder
	Timeout      time.Duration
	MaxLogLength int
	Logger       *zap.Logger
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
