package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spawnpoint/spawnpoint/pkg/config"
	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/store"
	"github.com/spawnpoint/spawnpoint/pkg/tasks"
)

var migrateTasksDir bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	Long: `Apply schema migrations against the configured database. The
serve commands migrate on startup too; this exists for pipelines that
migrate with elevated credentials before the service user starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if err := st.Migrate(); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		log.Logger.Info().Msg("schema migrated")

		if migrateTasksDir {
			broker := events.NewBroker()
			broker.Start()
			defer broker.Stop()

			names, err := tasks.Register(context.Background(), st, broker, cfg.TasksDir)
			if err != nil {
				return fmt.Errorf("register tasks: %w", err)
			}
			log.Logger.Info().Strs("tasks", names).Msg("tasks registered")
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateTasksDir, "register-tasks", false, "Also scan the tasks directory and register task rows")
}
