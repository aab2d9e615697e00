package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/config"
	"github.com/lettucelabs/lettuce/internal/db"
)

func initCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set up the data directory: device name, model, memory, sync",
		Run: func(cmd *cobra.Command, args []string) {
			runInit(yes)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "accept current values without prompting")
	return cmd
}

func runInit(acceptDefaults bool) {
	paths, err := config.ResolvePaths()
	if err != nil {
		fatalf("resolve data root: %s", err)
	}

	cfg := config.Default()
	if _, err := os.Stat(paths.ConfigFile); err == nil {
		fmt.Printf("Found existing config at %s\n", paths.ConfigFile)
		useExisting := true
		if !acceptDefaults {
			useExisting, err = promptConfirm("Use existing config as base?", true)
			if err != nil {
				fmt.Println("Cancelled.")
				return
			}
		}
		if useExisting {
			if loaded, lerr := config.Load(paths.ConfigFile); lerr == nil {
				cfg = loaded
			} else {
				fmt.Printf("Warning: could not load existing config: %v\n", lerr)
			}
		}
	}

	if !acceptDefaults && !runInitWizard(cfg) {
		fmt.Println("Cancelled.")
		return
	}

	if err := config.Save(paths.ConfigFile, cfg); err != nil {
		fatalf("save config: %s", err)
	}

	// First open creates and migrates the database.
	dbx, err := db.Open(paths.Database)
	if err != nil {
		fatalf("open database: %s", err)
	}
	dbx.Close()
	for _, dir := range []string{paths.ModelsDir, paths.MediaDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			fatalf("create %s: %s", dir, err)
		}
	}

	fmt.Println()
	fmt.Println("Setup complete.")
	fmt.Printf("  Config:    %s\n", paths.ConfigFile)
	fmt.Printf("  Database:  %s\n", paths.Database)
	fmt.Printf("  Device:    %s\n", cfg.DeviceName)
	fmt.Printf("  Model:     %s (%s)\n", cfg.Model.Version, modelStatus(paths.ModelsDir, cfg.Model.Version))
	memState := "off"
	if cfg.Memory.Enabled {
		memState = "on"
	}
	fmt.Printf("  Memory:    %s\n", memState)
	approval := "open to any peer with the PIN"
	if cfg.Sync.RequireApproval {
		approval = "approval required"
	}
	fmt.Printf("  Sync:      port %d, %s\n", cfg.Sync.Port, approval)
	if modelStatus(paths.ModelsDir, cfg.Model.Version) != "installed" {
		fmt.Println()
		fmt.Printf("Place the %s model files under %s/%s/ before enabling memory.\n",
			cfg.Model.Version, paths.ModelsDir, cfg.Model.Version)
	}
}

// runInitWizard walks the interactive steps, mutating cfg in place. False
// means the user cancelled.
func runInitWizard(cfg *config.Config) bool {
	name, err := promptString("Device name", "Shown to the other device during sync pairing.", cfg.DeviceName)
	if err != nil {
		return false
	}
	cfg.DeviceName = name

	versionOptions := []selectOption[string]{
		{"v3  (quantized, current)", "v3"},
		{"v2  (quantized, previous)", "v2"},
		{"v1  (full precision, legacy)", "v1"},
	}
	defaultIdx := 0
	for i, opt := range versionOptions {
		if opt.Value == cfg.Model.Version {
			defaultIdx = i
		}
	}
	version, err := promptSelect("Embedding model version", versionOptions, defaultIdx)
	if err != nil {
		return false
	}
	cfg.Model.Version = version

	memEnabled, err := promptConfirm("Enable dynamic memory?", cfg.Memory.Enabled)
	if err != nil {
		return false
	}
	cfg.Memory.Enabled = memEnabled

	portStr, err := promptString("Sync listen port", "", strconv.Itoa(cfg.Sync.Port))
	if err != nil {
		return false
	}
	if port, perr := strconv.Atoi(portStr); perr == nil && port > 0 && port <= 65535 {
		cfg.Sync.Port = port
	} else {
		fmt.Printf("Keeping port %d (%q is not a valid port).\n", cfg.Sync.Port, portStr)
	}

	requireApproval, err := promptConfirm("Ask before another device may sync?", cfg.Sync.RequireApproval)
	if err != nil {
		return false
	}
	cfg.Sync.RequireApproval = requireApproval
	return true
}
