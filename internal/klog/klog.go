// Package klog wraps go.uber.org/zap with the one piece of bookkeeping the
// teacher never needed: a per-boot correlation id. Biscuit prints straight
// to the console with fmt.Printf because it only ever boots one physical
// machine at a time; a hosted simulation that boots repeatedly in tests and
// demos benefits from tagging every log line with the boot that produced
// it.
package klog

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// New builds a development-mode zap.Logger tagged with a fresh boot id,
// returning both the logger and the id so callers can thread it through
// other subsystems (e.g. included in panic messages).
func New(name string) (*zap.Logger, uuid.UUID) {
	bootID := uuid.New()
	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("component", name),
		zap.String("boot_id", bootID.String()),
	)
	return logger, bootID
}

// Nop returns a logger that discards everything, for tests that don't care
// about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
