// Package scrape turns job posting URLs into plain text for the company
// analysis.
package scrape

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/headhunter"
)

const (
	defaultJinaURL   = "https://r.jina.ai/"
	defaultUserAgent = "Mozilla/5.0 (compatible; fit-analyzer/1.0)"
	maxBodyBytes     = 5 << 20
)

// VacancySource resolves hh.ru vacancies through the API.
type VacancySource interface {
	Vacancy(ctx context.Context, id string) (*headhunter.Vacancy, error)
}

// Config tunes the fetcher.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	JinaEnabled bool
	JinaURL     string
	JinaAPIKey  string
}

// Fetcher returns readable text for a page. It tries the hh.ru API for
// vacancy URLs, then the Jina reader, then a direct request.
type Fetcher struct {
	client    *http.Client
	vacancies VacancySource
	cfg       Config
	logger    *zap.Logger
}

// New returns a fetcher. vacancies may be nil.
func New(cfg Config, vacancies VacancySource, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.JinaURL == "" {
		cfg.JinaURL = defaultJinaURL
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		vacancies: vacancies,
		cfg:       cfg,
		logger:    logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.vacancies != nil {
		if id, ok := headhunter.VacancyID(url); ok {
			text, err := f.fromVacancy(ctx, id)
			if err == nil && text != "" {
				return text, nil
			}
			f.logger.Warn("hh.ru api lookup failed, falling back", zap.String("url", url), zap.Error(err))
		}
	}

	var errs []error
	if f.cfg.JinaEnabled {
		text, err := f.fromReader(ctx, url)
		if err == nil && text != "" {
			return text, nil
		}
		if err == nil {
			err = errors.New("empty reader response")
		}
		f.logger.Warn("reader proxy failed, fetching directly", zap.String("url", url), zap.Error(err))
		errs = append(errs, fmt.Errorf("reader: %w", err))
	}

	text, err := f.direct(ctx, url)
	if err == nil && text != "" {
		return text, nil
	}
	if err == nil {
		err = errors.New("page has no readable text")
	}
	errs = append(errs, fmt.Errorf("direct: %w", err))

	return "", apperr.Upstream("fetch job posting "+url, errors.Join(errs...))
}

func (f *Fetcher) fromVacancy(ctx context.Context, id string) (string, error) {
	vacancy, err := f.vacancies.Vacancy(ctx, id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(vacancy.Header())
	if desc := TextString(vacancy.Description); desc != "" {
		b.WriteString("\nDescription:\n")
		b.WriteString(desc)
	}
	return strings.TrimSpace(b.String()), nil
}

func (f *Fetcher) fromReader(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.JinaURL+url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")
	if f.cfg.JinaAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.JinaAPIKey)
	}

	body, _, err := f.do(req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

func (f *Fetcher) direct(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	body, contentType, err := f.do(req)
	if err != nil {
		return "", err
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" || strings.Contains(mediaType, "html") {
		return Text(strings.NewReader(body))
	}
	return strings.TrimSpace(body), nil
}

func (f *Fetcher) do(req *http.Request) (string, string, error) {
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip")

	f.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("bad status: %s", resp.Status)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", "", err
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return "", "", err
	}
	return string(data), resp.Header.Get("Content-Type"), nil
}
