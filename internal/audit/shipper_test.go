package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/db/models"
)

func sampleEntry(action models.AuditAction) *models.AuditLog {
	actor := "user-1"
	return &models.AuditLog{
		ID:             "audit-1",
		OrganizationID: "org-1",
		UserID:         &actor,
		Action:         action,
		EntityType:     models.EntityDeal,
		EntityID:       "deal-1",
		Changes:        json.RawMessage(`{"stageId":{"before":"stage-A","after":"stage-B"}}`),
		CreatedAt:      time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_Empty(t *testing.T) {
	ms, err := audit.NewMultiShipper(nil)
	if err != nil {
		t.Fatalf("NewMultiShipper(nil) error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
	if err := ms.Ship(context.Background(), sampleEntry(models.AuditCreate)); err != nil {
		t.Errorf("Ship() on empty multi-shipper = %v, want nil", err)
	}
	if err := ms.Close(); err != nil {
		t.Errorf("Close() on empty multi-shipper = %v, want nil", err)
	}
}

func TestNewMultiShipper_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AuditShipperConfig
	}{
		{"unknown type", config.AuditShipperConfig{Enabled: true, Type: "kafka"}},
		{"webhook without config", config.AuditShipperConfig{Enabled: true, Type: "webhook"}},
		{"webhook without url", config.AuditShipperConfig{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{}}},
		{"file without config", config.AuditShipperConfig{Enabled: true, Type: "file"}},
		{"syslog without config", config.AuditShipperConfig{Enabled: true, Type: "syslog"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audit.NewMultiShipper([]config.AuditShipperConfig{tt.cfg}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewMultiShipper_DisabledConfigSkipped(t *testing.T) {
	ms, err := audit.NewMultiShipper([]config.AuditShipperConfig{
		{Enabled: false, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: "http://example.com"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
}

func TestMultiShipper_ContinuesAfterShipperError(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	var delivered atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	ms, err := audit.NewMultiShipper([]config.AuditShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: failing.URL, TimeoutSecs: 1}},
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: healthy.URL, TimeoutSecs: 1}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper error: %v", err)
	}
	defer ms.Close()

	if err := ms.Ship(context.Background(), sampleEntry(models.AuditUpdate)); err == nil {
		t.Error("Ship() = nil, want error from failing shipper")
	}
	if delivered.Load() != 1 {
		t.Errorf("healthy shipper received %d calls, want 1", delivered.Load())
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_ShipEntry(t *testing.T) {
	var received bytes.Buffer
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		token = r.Header.Get("X-Auth-Token")
		received.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&config.AuditWebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Auth-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	entry := sampleEntry(models.AuditUpdate)
	if err := ws.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	var decoded models.AuditLog
	if err := json.Unmarshal(received.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.EntityID != "deal-1" || decoded.Action != models.AuditUpdate {
		t.Errorf("decoded = %+v", decoded)
	}
	if token != "secret" {
		t.Errorf("X-Auth-Token = %q, want secret", token)
	}
}

func TestWebhookShipper_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&config.AuditWebhookConfig{URL: srv.URL})
	defer ws.Close()

	if err := ws.Ship(context.Background(), sampleEntry(models.AuditDelete)); err == nil {
		t.Error("Ship() = nil, want error for 502 response")
	}
}

func TestWebhookShipper_CloseTwice(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&config.AuditWebhookConfig{URL: "http://localhost:0", BatchSize: 10})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	ws.Close()
}

func TestWebhookShipper_Batching(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		interval time.Duration
		close    bool
	}{
		{"flush when batch fills", 1, 5 * time.Second, false},
		{"flush on interval", 100, 50 * time.Millisecond, false},
		{"flush on close", 100, 5 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan []models.AuditLog, 10)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var batch []models.AuditLog
				_ = json.NewDecoder(r.Body).Decode(&batch)
				w.WriteHeader(http.StatusOK)
				done <- batch
			}))
			defer srv.Close()

			ws, err := audit.NewWebhookShipper(&config.AuditWebhookConfig{
				URL:           srv.URL,
				BatchSize:     tt.size,
				FlushInterval: tt.interval,
			})
			if err != nil {
				t.Fatalf("NewWebhookShipper: %v", err)
			}
			if err := ws.Ship(context.Background(), sampleEntry(models.AuditCreate)); err != nil {
				t.Fatalf("Ship() error: %v", err)
			}
			if tt.close {
				ws.Close()
			} else {
				defer ws.Close()
			}

			select {
			case batch := <-done:
				if len(batch) != 1 {
					t.Errorf("batch has %d entries, want 1", len(batch))
				}
			case <-time.After(3 * time.Second):
				t.Error("timed out waiting for batch")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	fs, err := audit.NewFileShipper(&config.AuditFileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := fs.Ship(context.Background(), sampleEntry(models.AuditUpdate)); err != nil {
			t.Fatalf("Ship() error: %v", err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		var decoded models.AuditLog
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("file has %d lines, want 3", lines)
	}
}

func TestNewFileShipper_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodir", "audit.log")
	if _, err := audit.NewFileShipper(&config.AuditFileConfig{Path: path}); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func TestFileShipper_Rotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	if err := os.WriteFile(logPath, make([]byte, 1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := audit.NewFileShipper(&config.AuditFileConfig{Path: logPath, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), sampleEntry(models.AuditCreate)); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("backup .1 missing after rotation: %v", err)
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("log file missing after rotation: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Errorf("live file size = %d, want fresh file", info.Size())
	}
}
