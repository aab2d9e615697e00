package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/config"
	"github.com/lettucelabs/lettuce/internal/db"
	"github.com/lettucelabs/lettuce/internal/embedding"
	"github.com/lettucelabs/lettuce/internal/store"
	"github.com/lettucelabs/lettuce/pkg/syncwire"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check data directory, database, and model health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("lettuce doctor")
	fmt.Printf("  Version:  0.3.0 (sync protocol %d)\n", syncwire.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Data root
	paths, err := config.ResolvePaths()
	if err != nil {
		fmt.Printf("  Data root error: %s\n", err)
		return
	}
	fmt.Printf("  Data root: %s\n", paths.Root)

	// Config
	fmt.Printf("  Config:    %s", paths.ConfigFile)
	if _, err := os.Stat(paths.ConfigFile); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Database
	fmt.Println()
	fmt.Printf("  Database:  %s", paths.Database)
	dbx, err := db.Open(paths.Database)
	if err != nil {
		fmt.Printf(" (ERROR: %s)\n", err)
		return
	}
	defer dbx.Close()
	fmt.Println(" (OK)")

	st := store.New(dbx)
	for _, table := range []string{"characters", "sessions", "messages", "memory_entries"} {
		if n, err := st.CountRows(table); err == nil {
			fmt.Printf("    %-15s %d rows\n", table+":", n)
		}
	}

	// Embedding models
	fmt.Println()
	fmt.Println("  Embedding models:")
	for _, version := range embedding.Versions {
		checkModelVersion(paths.ModelsDir, version, cfg.Model.Version)
	}
	if lib := os.Getenv(embedding.EnvRuntimeLib); lib != "" {
		fmt.Printf("    %-12s %s\n", "runtime:", lib)
	} else {
		fmt.Printf("    %-12s (default library path)\n", "runtime:")
	}

	// Media
	fmt.Println()
	fmt.Printf("  Media dir: %s", paths.MediaDir)
	if _, err := os.Stat(paths.MediaDir); err != nil {
		fmt.Println(" (not created yet)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkModelVersion(modelsDir, version, active string) {
	marker := " "
	if version == active {
		marker = "*"
	}
	model, vocab, err := embedding.ModelFiles(version)
	if err != nil {
		return
	}
	var missing []string
	for _, f := range []string{model, vocab} {
		if _, err := os.Stat(filepath.Join(modelsDir, version, f)); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		fmt.Printf("   %s%-9s OK\n", marker, version+":")
	} else {
		fmt.Printf("   %s%-9s missing %s\n", marker, version+":", strings.Join(missing, ", "))
	}
}
