package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/store"
)

// Register scans dir at gateway startup and ensures a task row for
// every subdirectory, with the recipe path <dir>/<name>/Dockerfile.
// Registration is idempotent, so restarting the gateway against a
// populated store is safe. Returns the registered names sorted.
func Register(ctx context.Context, st *store.Store, broker *events.Broker, dir string) ([]string, error) {
	logger := log.WithComponent("tasks")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read tasks directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dockerfile := filepath.Join(dir, name, "Dockerfile")
		if _, err := os.Stat(dockerfile); err != nil {
			logger.Warn().Str("task", name).Str("path", dockerfile).
				Msg("skipping task directory without Dockerfile")
			continue
		}

		if err := st.EnsureTask(ctx, name, dockerfile); err != nil {
			return nil, fmt.Errorf("register task %q: %w", name, err)
		}
		names = append(names, name)

		logger.Info().Str("task", name).Str("dockerfile", dockerfile).Msg("task registered")
		if broker != nil {
			broker.Publish(&events.Event{
				Type:    events.EventTaskRegistered,
				Task:    name,
				Message: "task registered",
			})
		}
	}

	sort.Strings(names)
	return names, nil
}
