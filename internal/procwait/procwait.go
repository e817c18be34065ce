// Package procwait blocks until a set of processes is running
package procwait

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// Lister takes a snapshot of running executable names
type Lister interface {
	Names() ([]string, error)
}

// ProcessTable lists processes from the host OS
type ProcessTable struct{}

// Names returns the executable name of every running process
func (ProcessTable) Names() ([]string, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		names = append(names, p.Executable())
	}
	return names, nil
}

// Missing returns the required names absent from a snapshot.
// Matching is case-insensitive.
func Missing(snapshot, required []string) []string {
	present := make(map[string]struct{}, len(snapshot))
	for _, n := range snapshot {
		present[strings.ToLower(n)] = struct{}{}
	}

	var missing []string
	for _, r := range required {
		if _, ok := present[strings.ToLower(r)]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

// Wait polls the lister every interval until one snapshot contains every
// required name. There is no timeout; cancel ctx to give up.
func Wait(ctx context.Context, lister Lister, required []string, interval time.Duration, logger *slog.Logger) error {
	if len(required) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("waiting for required processes", "processes", required)

	var lastMissing string
	for {
		names, err := lister.Names()
		if err != nil {
			logger.Warn("process snapshot failed", "error", err)
		} else {
			missing := Missing(names, required)
			if len(missing) == 0 {
				logger.Info("all required processes are up")
				return nil
			}

			if key := strings.Join(missing, ","); key != lastMissing {
				logger.Info("still waiting", "missing", missing)
				lastMissing = key
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
