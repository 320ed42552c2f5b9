package cmd

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/fit-analyzer/internal/jobs"
	"github.com/spigell/fit-analyzer/internal/logger"
	"github.com/spigell/fit-analyzer/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the analysis workers",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "address to listen on (overrides http.listen)")
	viper.BindPFlag("http.listen", serveCmd.Flags().Lookup("listen"))
}

func serve(_ *cobra.Command) {
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

	logger.Info("starting the fit-analyzer api", zap.String("version", version), zap.String("listen", config.HTTP.Listen))

	deps, err := buildComponents(ctx, config, logger)
	if err != nil {
		logger.Fatal("initializing components", zap.Error(err))
	}

	queue := jobs.NewQueue(deps.pipeline.Handle, logger.Named("queue"),
		jobs.WithWorkers(config.Jobs.Workers),
		jobs.WithQueueSize(config.Jobs.QueueSize),
		jobs.WithJobTimeout(config.Jobs.JobTimeout),
		jobs.WithDropHandler(deps.pipeline.Abandon),
	)

	service := jobs.NewService(deps.store, deps.objects, queue, jobs.ServiceConfig{
		PollInterval:   config.Jobs.PollInterval,
		MaxPollTimeout: config.HTTP.MaxPollTimeout,
	}, logger.Named("jobs"))

	api := server.New(service, deps.records, deps.objects, logger.Named("http"))

	handler := cors.New(cors.Options{
		AllowedOrigins:   config.HTTP.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(api.Router())

	// long-polls watch this context so they return once shutdown starts
	requests, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Addr:        config.HTTP.Listen,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return requests },
	}
	srv.RegisterOnShutdown(cancelRequests)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down",
			zap.Duration("http_timeout", config.HTTP.ShutdownTimeout),
			zap.Duration("drain_timeout", config.Jobs.DrainTimeout),
		)

		httpCtx, cancelHTTP := context.WithTimeout(context.Background(), config.HTTP.ShutdownTimeout)
		defer cancelHTTP()
		if err := srv.Shutdown(httpCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), config.Jobs.DrainTimeout)
		defer cancelDrain()
		if err := queue.Shutdown(drainCtx); err != nil {
			logger.Warn("queue shutdown", zap.Error(err))
		}

		closeCtx, cancelClose := context.WithTimeout(context.Background(), config.HTTP.ShutdownTimeout)
		defer cancelClose()
		return deps.Close(closeCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("bye")
}
