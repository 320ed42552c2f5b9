// Package server exposes the job and record endpoints over HTTP.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/jobs"
	"github.com/spigell/fit-analyzer/internal/repository"
	"github.com/spigell/fit-analyzer/internal/storage"
)

// JobService is the job lifecycle used by the analyze endpoints.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.SubmitResponse, error)
	Start(ctx context.Context, token string) (*jobs.Job, error)
	Poll(ctx context.Context, token string, timeout time.Duration) (*jobs.Job, bool, error)
	Result(ctx context.Context, token string) (*jobs.Job, error)
	Files(ctx context.Context, token string) ([]storage.Object, error)
}

// Records reads persisted profiles and results.
type Records interface {
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Search(ctx context.Context, collection string, q repository.Query) ([]map[string]any, error)
}

// Uploader stores a file sent through the API.
type Uploader interface {
	Put(ctx context.Context, prefix, fileName, contentType string, r io.Reader) (string, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	jobs      JobService
	records   Records
	uploads   Uploader
	logger    *zap.Logger
	maxUpload int64
}

// New returns a server.
func New(jobService JobService, records Records, uploads Uploader, logger *zap.Logger) *Server {
	return &Server{
		jobs:      jobService,
		records:   records,
		uploads:   uploads,
		logger:    logger,
		maxUpload: 32 << 20,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(s.logger))
	router.Use(recovery(s.logger))
	router.Use(errorResponder(s.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	analyze := router.Group("/api/analyze")
	{
		analyze.POST("/upload", s.submitJob)
		analyze.POST("/start/:key", s.startJob)
		analyze.GET("/status/:key", s.pollStatus)
		analyze.GET("/result/:key", s.getFinalResult)
		analyze.GET("/files/:key", s.listFiles)
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/upload/file", s.uploadFile)

		for path, collection := range map[string]string{
			"/companies":   repository.CollectionCompanies,
			"/candidates":  repository.CollectionCandidates,
			"/culture-fit": repository.CollectionCultureFit,
		} {
			v1.GET(path, s.listRecords(collection))
			v1.GET(path+"/:id", s.getRecord(collection))
		}
	}

	return router
}
