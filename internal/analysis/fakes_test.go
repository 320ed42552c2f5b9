package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spigell/fit-analyzer/internal/ai"
)

type generateCall struct {
	system  string
	message string
	docs    []ai.Document
}

type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []generateCall
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, system, message string, docs ...ai.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{system: system, message: message, docs: docs})
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("unexpected call")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeGenerator) Model() string { return "gemini-test" }

type recordedDoc struct {
	collection string
	doc        map[string]any
}

type fakeRecorder struct {
	mu   sync.Mutex
	docs []recordedDoc
	err  error
}

func (f *fakeRecorder) Create(ctx context.Context, collection string, doc map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.docs = append(f.docs, recordedDoc{collection: collection, doc: doc})
	return fmt.Sprintf("id-%d", len(f.docs)), nil
}

type fakePages struct {
	text string
	err  error
	urls []string
}

func (f *fakePages) Fetch(ctx context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return f.text, f.err
}

type fakeObjects struct {
	content map[string]string
}

func (f *fakeObjects) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	body, ok := f.content[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return io.NopCloser(bytes.NewBufferString(body)), "application/pdf", nil
}

type fakeStager struct {
	mu        sync.Mutex
	uploaded  []string
	deleted   []string
	failAfter int
	deleteErr error
}

func (f *fakeStager) UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (*ai.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.uploaded) >= f.failAfter {
		return nil, errors.New("upload rejected")
	}
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("files/%d", len(f.uploaded)+1)
	f.uploaded = append(f.uploaded, name)
	return &ai.Document{Name: name, URI: "https://files/" + name, MIMEType: mimeType, DisplayName: displayName}, nil
}

func (f *fakeStager) DeleteFile(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}
