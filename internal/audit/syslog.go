//go:build !windows && !plan9

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/syslog"

	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/db/models"
)

// SyslogShipper writes entries as JSON messages to a local or remote syslog daemon.
type SyslogShipper struct {
	writer *syslog.Writer
}

// NewSyslogShipper dials the configured daemon. An empty network and address
// uses the local syslog socket.
func NewSyslogShipper(cfg *config.AuditSyslogConfig) (*SyslogShipper, error) {
	tag := cfg.Tag
	if tag == "" {
		tag = "crm-audit"
	}
	w, err := syslog.Dial(cfg.Network, cfg.Address, syslog.LOG_INFO|syslog.LOG_AUTH, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}
	return &SyslogShipper{writer: w}, nil
}

// Ship sends entry at info severity.
func (s *SyslogShipper) Ship(_ context.Context, entry *models.AuditLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return s.writer.Info(string(data))
}

// Close closes the syslog connection.
func (s *SyslogShipper) Close() error {
	return s.writer.Close()
}
