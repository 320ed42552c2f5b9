package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/ai/gemini"
	"github.com/spigell/fit-analyzer/internal/analysis"
	"github.com/spigell/fit-analyzer/internal/headhunter"
	"github.com/spigell/fit-analyzer/internal/jobs"
	"github.com/spigell/fit-analyzer/internal/llmjson"
	"github.com/spigell/fit-analyzer/internal/logger"
	"github.com/spigell/fit-analyzer/internal/pipeline"
	"github.com/spigell/fit-analyzer/internal/repository"
	"github.com/spigell/fit-analyzer/internal/scrape"
	"github.com/spigell/fit-analyzer/internal/secrets"
	"github.com/spigell/fit-analyzer/internal/storage"
)

// components are the long-lived dependencies shared by serve and analyze.
type components struct {
	records  *repository.Mongo
	objects  *storage.S3
	store    jobs.Store
	pipeline *pipeline.Pipeline
	closers  []func(context.Context) error
}

func (c *components) Close(ctx context.Context) error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildComponents(ctx context.Context, config *Config, log *zap.Logger) (*components, error) {
	c := &components{}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "Gemini API key",
		Value: config.Gemini.APIKey,
		File:  config.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	records, err := repository.Connect(ctx, config.Mongo.URI, config.Mongo.Database, config.Mongo.Timeout, logger.Named(log, "mongo"))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	c.records = records
	c.closers = append(c.closers, records.Close)

	if err := records.EnsureIndexes(ctx); err != nil {
		log.Warn("could not create indexes", zap.Error(err))
	}

	secretKey, err := secrets.Optional(secrets.Source{
		Name:  "S3 secret access key",
		Value: config.Storage.SecretAccessKey,
		File:  config.Storage.SecretAccessKeyFile,
		Env:   "AWS_SECRET_ACCESS_KEY",
	})
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	objects, err := storage.NewS3(ctx, storage.Config{
		Bucket:          config.Storage.Bucket,
		Region:          config.Storage.Region,
		Endpoint:        config.Storage.Endpoint,
		AccessKeyID:     config.Storage.AccessKeyID,
		SecretAccessKey: secretKey,
		PresignExpiry:   config.Storage.PresignExpiry,
	}, logger.Named(log, "s3"))
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	c.objects = objects

	store, err := buildStore(ctx, config.Status, log)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.store = store.store
	if store.close != nil {
		c.closers = append(c.closers, store.close)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, config.Gemini.Model, config.Gemini.MaxRetries, logger.Named(log, "gemini"))
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	validator, err := llmjson.NewValidator()
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	hhToken, err := secrets.Optional(secrets.Source{Name: "hh.ru token", File: config.Scraper.HHTokenFile})
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	hh := headhunter.New(logger.Named(log, "headhunter"), hhToken)
	if config.Scraper.UserAgent != "" {
		hh.UserAgent = config.Scraper.UserAgent
	}

	pages := scrape.New(scrape.Config{
		UserAgent:   config.Scraper.UserAgent,
		Timeout:     config.Scraper.Timeout,
		JinaEnabled: config.Scraper.JinaEnabled,
		JinaAPIKey:  config.Scraper.JinaAPIKey,
	}, hh, logger.Named(log, "scrape"))

	opts := analysis.Options{
		Generator:    generator,
		Validator:    validator,
		Records:      records,
		Timeout:      config.Gemini.StageTimeout,
		MaxLogLength: config.Gemini.MaxLogLength,
		Logger:       logger.Named(log, "analysis"),
	}

	c.pipeline = pipeline.New(
		c.store,
		analysis.NewCompanyAnalyzer(opts, pages),
		analysis.NewCandidateAnalyzer(opts, objects, generator),
		analysis.NewComparer(opts),
		log,
	)

	return c, nil
}

type storeHandle struct {
	store jobs.Store
	close func(context.Context) error
}

func buildStore(ctx context.Context, config StatusConfig, log *zap.Logger) (*storeHandle, error) {
	switch config.Backend {
	case "", "memory":
		log.Info("using in-memory status store")
		return &storeHandle{store: jobs.NewMemoryStore()}, nil
	case "redis":
		password, err := secrets.Optional(secrets.Source{
			Name:  "Redis password",
			Value: config.Redis.Password,
			File:  config.Redis.PasswordFile,
			Env:   "REDIS_PASSWORD",
		})
		if err != nil {
			return nil, err
		}

		client, err := jobs.NewRedisClient(ctx, jobs.RedisConfig{
			Addrs:    config.Redis.Addrs,
			Username: config.Redis.Username,
			Password: password,
			DB:       config.Redis.DB,
		})
		if err != nil {
			return nil, err
		}

		log.Info("using redis status store", zap.Strings("addrs", config.Redis.Addrs))
		return &storeHandle{
			store: jobs.NewRedisStore(client, config.Redis.Prefix, config.Redis.TTL, logger.Named(log, "redis")),
			close: func(context.Context) error { return client.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown status backend %q", config.Backend)
	}
}
