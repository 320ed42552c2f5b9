package ai

import (
	"context"
	"io"
)

// Document references a file staged at the model provider.
type Document struct {
	Name        string
	URI         string
	MIMEType    string
	DisplayName string
}

// Generator produces text from a system instruction, a user message and
// optional staged documents.
type Generator interface {
	GenerateContent(ctx context.Context, system, message string, docs ...Document) (string, error)
	Model() string
}

// FileStager stages documents at the model provider for multi-part prompts.
type FileStager interface {
	UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (*Document, error)
	DeleteFile(ctx context.Context, name string) error
}
