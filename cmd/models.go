package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/embedding"
	"github.com/lettucelabs/lettuce/internal/store"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect embedding models and cached provider model lists",
	}
	cmd.AddCommand(modelsListCmd())
	cmd.AddCommand(modelsCachedCmd())
	return cmd
}

// --- models list ---

type modelEntry struct {
	Version string `json:"version"`
	Status  string `json:"status"`
	Active  bool   `json:"active"`
}

func modelsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show which model versions are installed under models/",
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			var entries []modelEntry
			for _, version := range embedding.Versions {
				entries = append(entries, modelEntry{
					Version: version,
					Status:  modelStatus(a.Paths.ModelsDir, version),
					Active:  version == a.Config.Model.Version,
				})
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "VERSION\tSTATUS\tACTIVE\n")
			for _, e := range entries {
				active := ""
				if e.Active {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Version, e.Status, active)
			}
			tw.Flush()
			fmt.Printf("\nModel files live under %s/<version>/.\n", a.Paths.ModelsDir)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// modelStatus reports whether a version's files are present on disk.
func modelStatus(modelsDir, version string) string {
	model, vocab, err := embedding.ModelFiles(version)
	if err != nil {
		return "unknown"
	}
	var missing []string
	for _, f := range []string{model, vocab} {
		if _, err := os.Stat(filepath.Join(modelsDir, version, f)); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return "installed"
	}
	return "missing " + strings.Join(missing, ", ")
}

// --- models cached ---

func modelsCachedCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "cached",
		Short: "Show provider model lists cached for offline use",
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			entries := a.ModelsCache().Entries()
			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(entries) == 0 {
				fmt.Println("No cached model lists.")
				return
			}

			names := credentialNames(a.Store)
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "CREDENTIAL\tMODELS\tFETCHED\tSTATE\n")
			for _, e := range entries {
				name := names[e.CredentialID]
				if name == "" {
					name = truncateStr(e.CredentialID, 11)
				}
				state := "stale"
				if e.Fresh {
					state = "fresh"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
					name, len(e.Models), time.UnixMilli(e.FetchedAt).Format(time.DateTime), state)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// credentialNames maps credential ids to display names. Cache entries whose
// credential row is gone fall back to the id.
func credentialNames(s *store.Store) map[string]string {
	names := map[string]string{}
	creds, err := s.ListCredentials()
	if err != nil {
		return names
	}
	for _, c := range creds {
		names[c.ID] = c.Name
	}
	return names
}
