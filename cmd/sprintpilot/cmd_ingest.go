package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sprintpilot/internal/corpus"
)

var ingestWatch bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest knowledge files into the corpus",
	Long: `Reads knowledge-item JSON files from a directory, validates them,
embeds their text, and stores them for framework selection. Re-running
over the same files updates items in place.

With --watch the command keeps running and re-ingests files as they
change on disk.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "keep watching the directory for changes")
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := cfg.Corpus.Dir
	if len(args) > 0 {
		dir = args[0]
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := corpus.NewLoader(s.store, s.engine, cfg.Corpus)
	report, err := loader.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d items (%d failed) from %s\n", report.Loaded, report.Failed, dir)
	for _, e := range report.Errors {
		fmt.Println("  -", e)
	}

	if !ingestWatch {
		return nil
	}

	watcher, err := corpus.NewWatcher(loader, dir)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	fmt.Println("Watching for changes. Ctrl-C to stop.")
	<-ctx.Done()
	return nil
}
