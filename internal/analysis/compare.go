package analysis

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spigell/fit-analyzer/internal/llmjson"
	"github.com/spigell/fit-analyzer/internal/logger"
	"github.com/spigell/fit-analyzer/internal/repository"

	"go.uber.org/zap"
)

//go:embed prompts/compare.md
var comparePrompt string

// ProfileComparer compares two stored profiles and records the result.
type ProfileComparer struct {
	runner  modelRunner
	model   string
	timeout time.Duration
	now     func() time.Time
}

// NewComparer returns a comparer using opts.
func NewComparer(opts Options) *ProfileComparer {
	model := ""
	if opts.Generator != nil {
		model = opts.Generator.Model()
	}
	return &ProfileComparer{
		runner:  newRunner(opts),
		model:   model,
		timeout: opts.Timeout,
		now:     time.Now,
	}
}

func (c *ProfileComparer) Compare(ctx context.Context, token string, company, candidate *StageResult) (*Comparison, error) {
	if company == nil || candidate == nil {
		return nil, fmt.Errorf("compare needs both profiles")
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	companyJSON, err := json.MarshalIndent(company.Profile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal company profile: %w", err)
	}
	candidateJSON, err := json.MarshalIndent(candidate.Profile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal applicant profile: %w", err)
	}

	message := render(comparePrompt, map[string]string{
		"COMPANY_ID":        company.ID,
		"CANDIDATE_ID":      candidate.ID,
		"COMPANY_PROFILE":   string(companyJSON),
		"CANDIDATE_PROFILE": string(candidateJSON),
	})

	payload, err := c.runner.structured(ctx, token, StageComparison, llmjson.SchemaCultureFit, message)
	if err != nil {
		return nil, err
	}

	setRefs(payload, company.ID, candidate.ID)
	score := Aggregate(payload)
	applyScore(payload, score)
	payload["_meta"] = map[string]any{
		"model":          c.model,
		"generated_at":   c.now().UTC().Format(time.RFC3339),
		"company_id":     company.ID,
		"candidate_id":   candidate.ID,
		"company_name":   metaOf(company.Profile).CompanyName,
		"developer_name": metaOf(candidate.Profile).CandidateName,
	}

	id, err := c.runner.records.Create(ctx, repository.CollectionCultureFit, payload)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.String("result_id", id), zap.String("band", score.Band), zap.Strings("excluded_axes", score.ExcludedAxes)}
	if score.MatchScore != nil {
		fields = append(fields, zap.Int("match_score", *score.MatchScore))
	}
	logger.ForJob(c.runner.logger, token, StageComparison).Info("culture fit result stored", fields...)

	return &Comparison{
		ID:          id,
		CompanyID:   company.ID,
		CandidateID: candidate.ID,
		Score:       score,
		Payload:     payload,
	}, nil
}

// Release is a no-op: comparison stages nothing upstream.
func (c *ProfileComparer) Release(context.Context, string) error { return nil }

func setRefs(payload map[string]any, companyID, candidateID string) {
	inputs, ok := payload["inputs"].(map[string]any)
	if !ok {
		inputs = map[string]any{}
		payload["inputs"] = inputs
	}
	inputs["company_profile_ref"] = map[string]any{"profile_id": companyID}
	inputs["developer_profile_ref"] = map[string]any{"profile_id": candidateID}
}

func applyScore(payload map[string]any, score Score) {
	overall, ok := payload["overall"].(map[string]any)
	if !ok {
		overall = map[string]any{}
		payload["overall"] = overall
	}
	if score.MatchScore != nil {
		overall["match_score"] = *score.MatchScore
	} else {
		overall["match_score"] = nil
	}
	overall["score_band"] = score.Band

	scoring, ok := overall["scoring"].(map[string]any)
	if !ok {
		scoring = map[string]any{}
		overall["scoring"] = scoring
	}
	scoring["excluded_axes"] = score.ExcludedAxes
}
