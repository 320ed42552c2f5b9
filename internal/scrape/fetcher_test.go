package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/apperr"
	"github.com/spigell/fit-analyzer/internal/headhunter"
)

const page = `<html><head><title>t</title><style>p{}</style></head>
<body><h1>Go Developer</h1><script>var x = 1;</script>
<div>We build   payment
services.</div><ul><li>Go</li><li>Postgres</li></ul></body></html>`

type fakeVacancies struct {
	vacancy *headhunter.Vacancy
	err     error
	calls   int32
}

func (f *fakeVacancies) Vacancy(ctx context.Context, id string) (*headhunter.Vacancy, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.vacancy, f.err
}

func TestText(t *testing.T) {
	t.Parallel()

	text, err := Text(strings.NewReader(page))
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	want := "Go Developer\nWe build payment services.\nGo\nPostgres"
	if text != want {
		t.Fatalf("unexpected text:\n%q\nwant:\n%q", text, want)
	}
}

func TestFetchDirect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := New(Config{}, nil, zap.NewNop())
	text, err := f.Fetch(context.Background(), srv.URL+"/job")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(text, "We build payment services.") || strings.Contains(text, "var x") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestFetchPrefersReader(t *testing.T) {
	t.Parallel()

	var directCalls int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&directCalls, 1)
		_, _ = w.Write([]byte(page))
	}))
	defer origin.Close()

	var readerURI string
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readerURI = r.RequestURI
		_, _ = w.Write([]byte("Title: Go Developer\n\nMarkdown Content:\nWe build payment services."))
	}))
	defer reader.Close()

	f := New(Config{JinaEnabled: true, JinaURL: reader.URL + "/"}, nil, zap.NewNop())
	text, err := f.Fetch(context.Background(), origin.URL+"/job")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.HasPrefix(text, "Title: Go Developer") {
		t.Fatalf("unexpected text %q", text)
	}
	if !strings.Contains(readerURI, "/job") {
		t.Fatalf("reader did not receive target url: %q", readerURI)
	}
	if atomic.LoadInt32(&directCalls) != 0 {
		t.Fatalf("direct fetch should not run when the reader succeeds")
	}
}

func TestFetchFallsBackFromReader(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer origin.Close()

	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer reader.Close()

	f := New(Config{JinaEnabled: true, JinaURL: reader.URL + "/"}, nil, zap.NewNop())
	text, err := f.Fetch(context.Background(), origin.URL+"/job")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(text, "Postgres") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestFetchVacancyAPI(t *testing.T) {
	t.Parallel()

	vacancy := &headhunter.Vacancy{Name: "Go Developer", Description: "<p>Build <b>payments</b></p>"}
	vacancy.Employer.Name = "Acme"
	source := &fakeVacancies{vacancy: vacancy}

	f := New(Config{}, source, zap.NewNop())
	text, err := f.Fetch(context.Background(), "https://hh.ru/vacancy/123")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for _, want := range []string{"Position: Go Developer", "Company: Acme", "Description:\nBuild payments"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q misses %q", text, want)
		}
	}
}

func TestFetchFailure(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	source := &fakeVacancies{err: errors.New("api down")}
	f := New(Config{}, source, zap.NewNop())

	_, err := f.Fetch(context.Background(), origin.URL+"/vacancy/1")
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if atomic.LoadInt32(&source.calls) != 0 {
		t.Fatalf("non hh.ru urls must not hit the vacancy api")
	}
}
