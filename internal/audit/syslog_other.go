//go:build windows || plan9

package audit

import (
	"context"
	"errors"

	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/db/models"
)

// SyslogShipper is unavailable on this platform.
type SyslogShipper struct{}

// NewSyslogShipper always fails: log/syslog is not implemented here.
func NewSyslogShipper(*config.AuditSyslogConfig) (*SyslogShipper, error) {
	return nil, errors.New("syslog shipper is not supported on this platform")
}

func (s *SyslogShipper) Ship(context.Context, *models.AuditLog) error { return nil }

func (s *SyslogShipper) Close() error { return nil }
