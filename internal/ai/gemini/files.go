package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spigell/fit-analyzer/internal/ai"
	"github.com/spigell/fit-analyzer/internal/apperr"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	filePollInterval = time.Second
	maxFilePolls     = 30
)

type fileService interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// UploadFile stages a document in the Gemini Files API and waits until it can
// be referenced from a prompt.
func (g *Generator) UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (*ai.Document, error) {
	if g == nil || g.files == nil {
		return nil, errors.New("gemini file service is not initialized")
	}

	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	file, err := g.files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, apperr.Upstream("gemini upload file", err)
	}

	name := file.Name
	for polls := 0; file.State == genai.FileStateProcessing && polls < maxFilePolls; polls++ {
		if err := wait(ctx, filePollInterval); err != nil {
			g.discard(ctx, name)
			return nil, apperr.Upstream("gemini wait for file", err)
		}

		file, err = g.files.Get(ctx, name, nil)
		if err != nil {
			g.discard(ctx, name)
			return nil, apperr.Upstream("gemini get file", err)
		}
	}

	if file.State != genai.FileStateActive {
		g.discard(ctx, name)
		return nil, apperr.Upstream("gemini upload file", fmt.Errorf("file %s is %s", name, file.State))
	}

	g.logger.Debug("gemini file staged",
		zap.String("file", file.Name),
		zap.String("display_name", displayName),
		zap.String("mime_type", mimeType),
	)

	docMIME := file.MIMEType
	if docMIME == "" {
		docMIME = mimeType
	}

	return &ai.Document{
		Name:        file.Name,
		URI:         file.URI,
		MIMEType:    docMIME,
		DisplayName: displayName,
	}, nil
}

// discard deletes a file that will not be handed to the caller. It runs
// even when ctx is already cancelled.
func (g *Generator) discard(ctx context.Context, name string) {
	if err := g.DeleteFile(context.WithoutCancel(ctx), name); err != nil {
		g.logger.Warn("deleting unused gemini file", zap.String("file", name), zap.Error(err))
	}
}

// DeleteFile removes a staged document.
func (g *Generator) DeleteFile(ctx context.Context, name string) error {
	if g == nil || g.files == nil {
		return errors.New("gemini file service is not initialized")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("file name is required")
	}

	if _, err := g.files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete gemini file %s: %w", name, err)
	}
	return nil
}
