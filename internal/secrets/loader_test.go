package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	emptyFile := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyFile, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	t.Setenv("FIT_TEST_SECRET", " from-env ")

	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr string
	}{
		{name: "file wins over value", src: Source{Name: "key", File: keyFile, Value: "inline"}, want: "from-file"},
		{name: "inline value", src: Source{Name: "key", Value: " inline "}, want: "inline"},
		{name: "env fallback", src: Source{Name: "key", Env: "FIT_TEST_SECRET"}, want: "from-env"},
		{name: "empty file", src: Source{Name: "key", File: emptyFile}, wantErr: "is empty"},
		{name: "missing file", src: Source{Name: "key", File: filepath.Join(dir, "nope")}, wantErr: "reading key"},
		{name: "not configured", src: Source{Name: "key"}, wantErr: "key is not configured"},
		{name: "unset env", src: Source{Name: "key", Env: "FIT_TEST_UNSET"}, wantErr: "set FIT_TEST_UNSET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	got, err := Optional(Source{Name: "s3 secret"})
	if err != nil || got != "" {
		t.Fatalf("expected empty secret without error, got %q, %v", got, err)
	}

	got, err = Optional(Source{Name: "s3 secret", Value: "abc"})
	if err != nil || got != "abc" {
		t.Fatalf("expected abc, got %q, %v", got, err)
	}
}
