package cmd

import (
	"fmt"
	"os"

	"github.com/lettucelabs/lettuce/internal/app"
	"github.com/lettucelabs/lettuce/internal/embedding"
)

// openApp opens the data engine, exiting on failure. Commands that touch the
// store or config come through here.
func openApp() *app.App {
	a, err := app.Open()
	if err != nil {
		fatalf("%s", err)
	}
	return a
}

// loadEmbedding builds the embedding engine and loads the configured model
// version. Commands that only read rows skip this.
func loadEmbedding(a *app.App) *embedding.Engine {
	eng := a.NewEmbedding()
	if err := eng.Load(a.Config.Model.Version); err != nil {
		fatalf("load embedding model %s: %s", a.Config.Model.Version, err)
	}
	return eng
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
