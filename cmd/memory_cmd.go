package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lettucelabs/lettuce/internal/memory"
	"github.com/lettucelabs/lettuce/internal/store"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain per-character dynamic memory",
	}
	cmd.AddCommand(memoryAddCmd())
	cmd.AddCommand(memorySearchCmd())
	cmd.AddCommand(memoryListCmd())
	cmd.AddCommand(memoryStatsCmd())
	cmd.AddCommand(memoryCompactCmd())
	return cmd
}

// --- memory add ---

func memoryAddCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "add <session-id> <content>",
		Short: "Store one memory entry for a session",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()
			emb := loadEmbedding(a)
			defer emb.Close()

			mem := memory.NewStore(a.DB, emb)
			id, err := mem.Append(cmd.Context(), args[0], args[1], kind, "")
			if err != nil {
				fatalf("append memory: %s", err)
			}
			fmt.Println(id)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", memory.KindUserUtterance, "entry kind: user_utterance, assistant_utterance, tool_update")
	return cmd
}

// --- memory search ---

func memorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <session-id> [query]",
		Short: "Recall the memories a chat turn would inject",
		Long: `Ranks a session's memory entries against the query and prints the ones
that fit the configured token budget. With no query the most recent
conversation turns stand in for it, as during a live chat.`,
		Args: cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()
			emb := loadEmbedding(a)
			defer emb.Close()

			query := ""
			if len(args) == 2 {
				query = args[1]
			}
			cfg := a.MemoryConfig()
			cfg.Enabled = true
			if limit > 0 {
				cfg.MaxEntries = limit
			}

			mem := memory.NewStore(a.DB, emb)
			sel := memory.NewSelector(mem, a.Store)
			entries, err := sel.Select(cmd.Context(), args[0], query, store.NowMillis(), cfg)
			if err != nil {
				fatalf("select memories: %s", err)
			}
			if len(entries) == 0 {
				fmt.Println("No memories selected.")
				return
			}
			for i, e := range entries {
				fmt.Printf("%2d. [%s] %s\n", i+1, e.Kind, e.Content)
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "override the configured entry cap")
	return cmd
}

// --- memory list ---

func memoryListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's stored memory entries",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			mem := memory.NewStore(a.DB, nil)
			entries, err := mem.List(args[0])
			if err != nil {
				fatalf("list memories: %s", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(entries) == 0 {
				fmt.Println("No memory entries.")
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tKIND\tHITS\tLAST HIT\tCONTENT\n")
			for _, e := range entries {
				lastHit := "never"
				if e.LastHitAt > 0 {
					lastHit = time.UnixMilli(e.LastHitAt).Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					truncateStr(e.ID, 11), e.Kind, e.HitCount, lastHit, truncateStr(e.Content, 60))
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// --- memory stats ---

func memoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory entry counts per session",
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			mem := memory.NewStore(a.DB, nil)
			counts, err := mem.SessionCounts()
			if err != nil {
				fatalf("memory stats: %s", err)
			}
			if len(counts) == 0 {
				fmt.Println("No memory entries.")
				return
			}

			ids := make([]string, 0, len(counts))
			for id := range counts {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			total := 0
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SESSION\tENTRIES\n")
			for _, id := range ids {
				fmt.Fprintf(tw, "%s\t%d\n", id, counts[id])
				total += counts[id]
			}
			tw.Flush()
			fmt.Printf("\n%d entries total.\n", total)
		},
	}
}

// --- memory compact ---

func memoryCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Evict cold memory entries now",
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp()
			defer a.Close()

			comp, err := memory.NewCompactor(memory.NewStore(a.DB, nil), a.MemoryConfig())
			if err != nil {
				fatalf("compactor: %s", err)
			}
			removed, err := comp.RunOnce()
			if err != nil {
				fatalf("compact: %s", err)
			}
			fmt.Printf("Evicted %d cold entries.\n", removed)
		},
	}
}
