package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/harvester/internal/database"
	"github.com/bigkaa/harvester/internal/service"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы PostgreSQL",
		Args:  invalidArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			sv, err := database.Migrate(a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("%w: %w", service.ErrConnection, err)
			}
			if sv.Dirty {
				fmt.Fprintf(a.out, "Версия схемы: %d (dirty, требуется ручное исправление)\n", sv.Version)
				return fmt.Errorf("%w: схема в состоянии dirty", service.ErrConnection)
			}
			fmt.Fprintf(a.out, "Версия схемы: %d\n", sv.Version)
			return nil
		},
	}
}
