package analysis

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/spigell/fit-analyzer/internal/ai"
	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/llmjson"
	"github.com/spigell/fit-analyzer/internal/logger"
	"github.com/spigell/fit-analyzer/internal/utils"

	"go.uber.org/zap"
)

const defaultMaxLogLength = 200

//go:embed prompts/system.md
var systemPrompt string

// modelRunner sends a prompt and turns the answer into a validated object.
type modelRunner struct {
	generator ai.Generator
	validator *llmjson.Validator
	records   Recorder
	logger    *zap.Logger
	maxLogLen int
}

func newRunner(opts Options) modelRunner {
	maxLogLen := opts.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	model := ""
	if opts.Generator != nil {
		model = opts.Generator.Model()
	}

	return modelRunner{
		generator: opts.Generator,
		validator: opts.Validator,
		records:   opts.Records,
		logger:    logger.WithCommonFields(opts.Logger, "gemini", model),
		maxLogLen: maxLogLen,
	}
}

func (r modelRunner) structured(ctx context.Context, token, stage, schema, message string, docs ...ai.Document) (map[string]any, error) {
	log := logger.ForJob(r.logger, token, stage)

	log.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(message, r.maxLogLen)),
		zap.Int("documents", len(docs)),
	)

	raw, err := r.generator.GenerateContent(ctx, systemPrompt, message, docs...)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, r.maxLogLen)),
	)

	payload, err := llmjson.Parse(raw)
	if err != nil {
		var parseErr *llmjson.ParseError
		if errors.As(err, &parseErr) {
			log.Warn("model output is not parseable",
				zap.Int("line", parseErr.Line),
				zap.Int("column", parseErr.Column),
				zap.Int("text_length", parseErr.Length),
				zap.String("window", strings.Join(parseErr.Window, "\n")),
				zap.Error(parseErr.Err),
			)
		}
		return nil, apperr.Unparseable(stage+" output", err)
	}

	if r.validator == nil {
		return payload, nil
	}

	if err := r.validator.Validate(schema, payload); err != nil {
		var schemaErr *llmjson.SchemaError
		if errors.As(err, &schemaErr) {
			log.Warn("model output does not match schema", zap.String("schema", schema), zap.Error(err))
			return nil, apperr.SchemaMismatch(stage+" output", err)
		}
		return nil, err
	}

	return payload, nil
}

// persist stores payload plus provenance and returns the storage id.
func (r modelRunner) persist(ctx context.Context, collection string, payload map[string]any, source Source) (string, error) {
	doc := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		doc[k] = v
	}
	doc["_source"] = source

	id, err := r.records.Create(ctx, collection, doc)
	if err != nil {
		return "", err
	}
	return id, nil
}

func render(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
