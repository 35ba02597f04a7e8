package gcs

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	appconfig "github.com/crm-platform/crm/internal/config"
)

// ---------------------------------------------------------------------------
// New() validation, no GCS connection required
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(context.Background(), &appconfig.GCSStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_EmulatorEndpoint(t *testing.T) {
	s, err := New(context.Background(), &appconfig.GCSStorageConfig{
		Bucket:   "attachments",
		Endpoint: "http://localhost:4443/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() with emulator endpoint: %v", err)
	}
	defer s.Close()

	if s.Bucket() != "attachments" {
		t.Errorf("Bucket() = %q, want attachments", s.Bucket())
	}
}

// ---------------------------------------------------------------------------
// Signed URL options
// ---------------------------------------------------------------------------

func TestSignedURLOptions(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	opts := signedURLOptions("Q3 plan.pdf", expires)

	if opts.Method != http.MethodGet {
		t.Errorf("Method = %q, want GET", opts.Method)
	}
	if !opts.Expires.Equal(expires) {
		t.Errorf("Expires = %v, want %v", opts.Expires, expires)
	}
	disposition := opts.QueryParameters["response-content-disposition"]
	if len(disposition) != 1 || !strings.Contains(disposition[0], `filename="Q3 plan.pdf"`) {
		t.Errorf("content disposition = %v", disposition)
	}
}
