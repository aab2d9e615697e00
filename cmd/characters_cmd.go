package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func charactersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "characters",
		Short: "View stored characters",
	}
	cmd.AddCommand(charactersListCmd())
	return cmd
}

func charactersListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all characters",
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			chars, err := a.Store.ListCharacters()
			if err != nil {
				fatalf("list characters: %s", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(chars, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(chars) == 0 {
				fmt.Println("No characters found.")
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tNAME\tDESCRIPTION\tUPDATED\n")
			for _, c := range chars {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					truncateStr(c.ID, 11),
					truncateStr(c.Name, 24),
					truncateStr(c.Description, 40),
					time.UnixMilli(c.UpdatedAt).Format(time.DateTime),
				)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
