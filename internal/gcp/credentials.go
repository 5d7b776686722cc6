// Package gcp resolves Google Cloud credentials from the environment for every
// Google client the tool builds (Vision, Document AI, Vertex AI, Sheets).
package gcp

import (
	"errors"
	"fmt"
	"os"

	"google.golang.org/api/option"
)

// ErrMissingCredentials is returned when neither credentials variable is set.
var ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

// ClientOptions returns credential options for a Google API client.
// Inline JSON in GOOGLE_CREDENTIALS wins over the GOOGLE_APPLICATION_CREDENTIALS
// file. With neither set it returns no options so the client falls back to
// application default credentials.
func ClientOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}

// HasCredentials reports whether credentials are configured explicitly.
func HasCredentials() bool {
	return os.Getenv("GOOGLE_CREDENTIALS") != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != ""
}

// CredentialsJSON returns the raw service account JSON, for clients that need
// a JWT config rather than client options.
func CredentialsJSON() ([]byte, error) {
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err := os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return creds, nil
	}
	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		return []byte(credsJSON), nil
	}
	return nil, ErrMissingCredentials
}

// DocumentAIEndpoint returns the regional endpoint option for a Document AI location.
// The "us" multi-region uses the default endpoint.
func DocumentAIEndpoint(location string) []option.ClientOption {
	if location == "" || location == "us" {
		return nil
	}
	return []option.ClientOption{option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", location))}
}
