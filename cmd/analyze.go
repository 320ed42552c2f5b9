package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/jobs"
	"github.com/spigell/fit-analyzer/internal/logger"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze --jd-url <url> <document>...",
	Short: "Analyze a job posting against local documents and print the culture fit",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		analyze(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().String("jd-url", "", "job posting URL")
	analyzeCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before starting the analysis")
	analyzeCmd.Flags().StringP("output", "o", "", "write the full result as JSON to this file")
	analyzeCmd.MarkFlagRequired("jd-url")
}

func analyze(cmd *cobra.Command, paths []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	jdURL, _ := cmd.Flags().GetString("jd-url")
	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	output, _ := cmd.Flags().GetString("output")

	files := make([]jobs.File, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			logger.Fatal("reading document", zap.String("path", p), zap.Error(err))
		}
		files = append(files, jobs.File{FileName: filepath.Base(p), ContentType: mime.TypeByExtension(filepath.Ext(p))})
	}

	deps, err := buildComponents(ctx, config, logger)
	if err != nil {
		logger.Fatal("initializing components", zap.Error(err))
	}
	defer deps.Close(context.Background())

	queue := jobs.NewQueue(deps.pipeline.Handle, logger.Named("queue"),
		jobs.WithWorkers(1),
		jobs.WithQueueSize(1),
		jobs.WithJobTimeout(config.Jobs.JobTimeout),
		jobs.WithDropHandler(deps.pipeline.Abandon),
	)
	defer queue.Shutdown(context.Background())

	service := jobs.NewService(deps.store, deps.objects, queue, jobs.ServiceConfig{
		PollInterval:   config.Jobs.PollInterval,
		MaxPollTimeout: config.HTTP.MaxPollTimeout,
	}, logger.Named("jobs"))

	submitted, err := service.Submit(ctx, jobs.SubmitRequest{JDURL: jdURL, Files: files})
	if err != nil {
		logger.Fatal("creating a job", zap.Error(err))
	}

	for i, p := range paths {
		if err := uploadDocument(ctx, deps, submitted.Token, p, files[i]); err != nil {
			logger.Fatal("uploading document", zap.String("path", p), zap.Error(err))
		}
	}

	logger.Info("documents uploaded", zap.String("result_key", submitted.Token), zap.Int("count", len(files)))

	if !autoApprove {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Analyze %d document(s) against %s?", len(files), jdURL),
			Items: []string{PromptYes, PromptNo},
		}
		_, answer, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if answer != PromptYes {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	if _, err := service.Start(ctx, submitted.Token); err != nil {
		logger.Fatal("starting the job", zap.Error(err))
	}

	job := waitForJob(ctx, service, submitted.Token, logger)

	if job.Status == jobs.StatusFailed {
		logger.Fatal("analysis failed", zap.String("stage", job.Error.Stage), zap.String("kind", job.Error.Kind), zap.String("message", job.Message))
	}

	score := job.Result.CultureFit.Score
	fields := []zap.Field{
		zap.String("result_key", job.Token),
		zap.String("band", score.Band),
		zap.Strings("scored_axes", score.ScoredAxes),
		zap.Strings("excluded_axes", score.ExcludedAxes),
	}
	if score.MatchScore != nil {
		fields = append(fields, zap.Int("match_score", *score.MatchScore))
	}
	logger.Info("culture fit", fields...)

	if output != "" {
		pretty, err := json.MarshalIndent(job.Result, "", "  ")
		if err != nil {
			logger.Fatal("encoding result", zap.Error(err))
		}
		if err := os.WriteFile(output, pretty, 0o644); err != nil {
			logger.Fatal("writing result", zap.Error(err))
		}
		logger.Info("dumping result to file", zap.String("filename", output))
	}
}

func uploadDocument(ctx context.Context, deps *components, token, path string, file jobs.File) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = deps.objects.Put(ctx, token, file.FileName, file.ContentType, f)
	return err
}

func waitForJob(ctx context.Context, service *jobs.Service, token string, logger *zap.Logger) *jobs.Job {
	lastProgress := -1
	for {
		job, done, err := service.Poll(ctx, token, 2*time.Second)
		if err != nil {
			logger.Fatal("polling the job", zap.Error(err))
		}
		if job.Progress != lastProgress {
			logger.Info("progress", zap.String("step", string(job.Step)), zap.Int("progress", job.Progress), zap.String("message", job.Message))
			lastProgress = job.Progress
		}
		if done {
			return job
		}
		if ctx.Err() != nil {
			logger.Fatal("interrupted", zap.String("result_key", token))
		}
	}
}
