package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/config"
	"github.com/lettucelabs/lettuce/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database and apply pending schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			paths, err := config.ResolvePaths()
			if err != nil {
				fatalf("resolve data root: %s", err)
			}
			dbx, err := db.Open(paths.Database)
			if err != nil {
				fatalf("open database: %s", err)
			}
			dbx.Close()
			fmt.Printf("Database at %s is up to date.\n", paths.Database)
		},
	}
}
