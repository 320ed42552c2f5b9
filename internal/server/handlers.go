package server

import (
	"errors"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/jobs"
	"github.com/spigell/fit-analyzer/internal/repository"
)

const (
	defaultUploadPrefix = "uploads"

	// the job service applies the configured cap below this
	maxPollSeconds = 3600
)

func (s *Server) submitJob(c *gin.Context) {
	var req jobs.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.InvalidInput("invalid request body: %v", err))
		return
	}

	resp, err := s.jobs.Submit(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) startJob(c *gin.Context) {
	job, err := s.jobs.Start(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"result_key": job.Token,
		"status":     jobs.StepQueued,
		"documents":  job.Documents,
	})
}

func (s *Server) pollStatus(c *gin.Context) {
	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
			c.Error(apperr.InvalidInput("timeout must be a non-negative number of seconds"))
			return
		}
		seconds = math.Min(seconds, maxPollSeconds)
		timeout = time.Duration(seconds * float64(time.Second))
	}

	job, done, err := s.jobs.Poll(c.Request.Context(), c.Param("key"), timeout)
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusAccepted
	if done {
		status = http.StatusOK
	}
	c.JSON(status, job.Snapshot())
}

func (s *Server) getFinalResult(c *gin.Context) {
	job, err := s.jobs.Result(c.Request.Context(), c.Param("key"))
	if err != nil {
		if job != nil && errors.Is(err, apperr.ErrConflict) {
			c.JSON(http.StatusConflict, job.Snapshot())
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, job.Result)
}

func (s *Server) listFiles(c *gin.Context) {
	key := c.Param("key")
	files, err := s.jobs.Files(c.Request.Context(), key)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result_key": key, "files": files})
}

func (s *Server) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	header, err := c.FormFile("file")
	if err != nil {
		c.Error(apperr.InvalidInput("file is required"))
		return
	}

	prefix := strings.Trim(c.PostForm("prefix"), "/")
	if prefix == "" {
		prefix = defaultUploadPrefix
	}
	if strings.Contains(prefix, "..") {
		c.Error(apperr.InvalidInput("prefix must not contain .."))
		return
	}

	name := path.Base(strings.ReplaceAll(header.Filename, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		c.Error(apperr.InvalidInput("file name is invalid"))
		return
	}

	file, err := header.Open()
	if err != nil {
		c.Error(apperr.InvalidInput("could not read file: %v", err))
		return
	}
	defer file.Close()

	key, err := s.uploads.Put(c.Request.Context(), prefix, name, header.Header.Get("Content-Type"), file)
	if err != nil {
		c.Error(apperr.Upstream("store uploaded file", err))
		return
	}

	s.logger.Info("file uploaded", zap.String("key", key), zap.Int64("size", header.Size))
	c.JSON(http.StatusCreated, gin.H{"object_key": key, "file_name": name, "size": header.Size})
}

func (s *Server) listRecords(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := repository.Query{Text: strings.TrimSpace(c.Query("q"))}

		var err error
		if q.Limit, err = intQuery(c, "limit"); err != nil {
			c.Error(err)
			return
		}
		if q.Skip, err = intQuery(c, "skip"); err != nil {
			c.Error(err)
			return
		}

		items, err := s.records.Search(c.Request.Context(), collection, q)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
	}
}

func (s *Server) getRecord(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := s.records.Get(c.Request.Context(), collection, c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func intQuery(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperr.InvalidInput("%s must be a non-negative integer", name)
	}
	return v, nil
}
