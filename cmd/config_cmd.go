package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			paths, err := config.ResolvePaths()
			if err != nil {
				fatalf("resolve data root: %s", err)
			}
			cfg, err := config.Load(paths.ConfigFile)
			if err != nil {
				fatalf("load config: %s", err)
			}
			data, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			paths, err := config.ResolvePaths()
			if err != nil {
				fatalf("resolve data root: %s", err)
			}
			fmt.Println(paths.ConfigFile)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			paths, err := config.ResolvePaths()
			if err != nil {
				fatalf("resolve data root: %s", err)
			}
			if _, err := os.Stat(paths.ConfigFile); err != nil {
				fmt.Printf("No config file at %s; built-in defaults apply.\n", paths.ConfigFile)
				return
			}
			if _, err := config.Load(paths.ConfigFile); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid config: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Config at %s is valid.\n", paths.ConfigFile)
		},
	}
}
