package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/putmeon/internal/simulate"
	"github.com/okian/putmeon/pkg/logger"
)

const runTimeout = 5 * time.Minute

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		guests   = flag.Int("guests", simulate.DefaultGuests, "Number of guests; the first one hosts")
		songs    = flag.Int("songs", simulate.DefaultSongs, "Songs submitted per guest")
		timeout  = flag.Duration("timeout", simulate.DefaultTimeout, "HTTP request timeout")
		cacheDir = flag.String("cache", ".putmeon-sim", "Directory of per-guest graded-track caches")
		logFile  = flag.String("log", "", "Also write logs to this file")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFile, *verbose); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:  *baseURL,
		Guests:   *guests,
		Songs:    *songs,
		Timeout:  *timeout,
		CacheDir: *cacheDir,
		Verbose:  *verbose,
	}
	if _, err := simulate.Run(ctx, cfg, logger.Get()); err != nil {
		_, _ = os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
