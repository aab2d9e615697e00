package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View and manage chat sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			infos, err := a.Store.ListSessions()
			if err != nil {
				fatalf("list sessions: %s", err)
			}
			printSessionOverviews(infos, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its messages and memories",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			if err := a.Store.DeleteSession(args[0]); err != nil {
				fatalf("delete session: %s", err)
			}
			fmt.Printf("Deleted session: %s\n", args[0])
		},
	}
}

// --- Shared display ---

func printSessionOverviews(infos []store.SessionOverview, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(infos) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tCHARACTER\tMESSAGES\tUPDATED\n")
	for _, s := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			truncateStr(s.ID, 11),
			truncateStr(s.Name, 30),
			truncateStr(s.CharacterName, 24),
			s.MessageCount,
			time.UnixMilli(s.UpdatedAt).Format(time.DateTime),
		)
	}
	tw.Flush()
}
