package gcp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCredentialsJSON(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	t.Setenv("GOOGLE_CREDENTIALS", "")

	if HasCredentials() {
		t.Fatalf("expected no credentials")
	}
	if _, err := CredentialsJSON(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if opts := ClientOptions(); len(opts) != 0 {
		t.Fatalf("expected no options, got %d", len(opts))
	}

	t.Setenv("GOOGLE_CREDENTIALS", `{"type":"service_account"}`)
	data, err := CredentialsJSON()
	if err != nil || string(data) != `{"type":"service_account"}` {
		t.Fatalf("unexpected inline credentials %q, %v", data, err)
	}

	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)
	data, err = CredentialsJSON()
	if err != nil || string(data) != `{"from":"file"}` {
		t.Fatalf("expected file credentials, got %q, %v", data, err)
	}
	if len(ClientOptions()) != 1 {
		t.Fatalf("expected one client option")
	}
}

func TestDocumentAIEndpoint(t *testing.T) {
	if len(DocumentAIEndpoint("us")) != 0 || len(DocumentAIEndpoint("")) != 0 {
		t.Fatalf("us must use the default endpoint")
	}
	if len(DocumentAIEndpoint("eu")) != 1 {
		t.Fatalf("eu must set a regional endpoint")
	}
}
