package simulate

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/putmeon/pkg/logger"
)

// SetupLogging initialises the global logger on stdout and, when logFile is
// set, on that file as well.
func SetupLogging(logFile string, verbose bool) error {
	var w io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.InitWith(w, "text"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`putmeon session simulator
=========================

Drives one full listening session against a running server: guests sign in
and stay online over websockets, submit songs, the host plays the freshest
one, everybody grades it at once, and the results are verified.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -guests int
        Number of guests; the first one hosts (default 5)
  -songs int
        Songs submitted per guest (default 1)
  -timeout duration
        HTTP request timeout (default 10s)
  -cache string
        Directory of per-guest graded-track caches (default ".putmeon-sim")
  -log string
        Also write logs to this file
  -verbose
        Enable debug logging
  -help
        Show this help message
`)
}
