package observability

import (
	"log/slog"
	"strings"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// NewLogger builds the service logger and installs it as the slog default.
// level none (case-insensitive) discards all output; every other level and
// format is handled by the shared storm-data logger.
func NewLogger(level, format string) *slog.Logger {
	if strings.EqualFold(strings.TrimSpace(level), "none") {
		logger := slog.New(slog.DiscardHandler)
		slog.SetDefault(logger)
		return logger
	}
	return sharedobs.NewLogger(strings.TrimSpace(level), format)
}
