package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
	"github.com/fyrsmithlabs/refmerge/internal/docstore"
	"github.com/fyrsmithlabs/refmerge/internal/document"
	"github.com/fyrsmithlabs/refmerge/internal/logging"
	"github.com/fyrsmithlabs/refmerge/internal/processor"
)

var (
	seedConfig  string
	seedResolve bool
	seedWorkers int
)

func init() {
	seedCmd.Flags().StringVar(&seedConfig, "config", "", "config file (default ~/.config/refmerge/config.yaml)")
	seedCmd.Flags().BoolVar(&seedResolve, "resolve", false, "resolve references before indexing")
	seedCmd.Flags().StringVar(&inputFormat, "format", "", "input format: json or yaml (default from file extension)")
	seedCmd.Flags().IntVar(&seedWorkers, "workers", 0, "concurrent documents when --resolve is set (default from config)")
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Load documents straight into the configured store",
	Long: `Load documents into the document store without going through refmerged.
Documents are indexed as-is unless --resolve is given, in which case each one
is resolved against the store first. With --resolve a document may reference
any document earlier in the file; its lookup waits until that one is indexed.
References to later documents are not seen.

The embedded store is locked while refmerged runs; stop the daemon or use
"refmerge ingest" instead.

Examples:
  # Seed the store from YAML
  refmerge seed fixtures.yaml

  # Seed and resolve using a specific config
  refmerge seed --config ./refmerge.toml --resolve docs.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	name := "-"
	if len(args) == 1 {
		name = args[0]
	}
	content, err := readInput(cmd, name)
	if err != nil {
		return err
	}
	docs, err := decodeDocuments(content, contentTypeFor(name, inputFormat))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents to seed")
	}

	cfg, err := config.LoadWithFile(seedConfig)
	if err != nil {
		return err
	}
	logger := zap.NewNop()

	ctx := cmd.Context()
	store, err := docstore.NewStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if !seedResolve {
		if err := store.Index(ctx, docs...); err != nil {
			return err
		}
		cmd.Printf("Seeded %d document(s)\n", len(docs))
		return nil
	}

	settings, err := processor.SettingsFromConfig(cfg.Merge, cfg.Store.LookupTimeout.Duration())
	if err != nil {
		return err
	}
	proc, err := processor.New(store, settings, logging.NewNop(), processor.NewIndexSink(store))
	if err != nil {
		return err
	}

	workers := seedWorkers
	if workers == 0 {
		workers = cfg.Workers.Count
	}
	results, err := processor.NewPool(proc, workers).ProcessAll(ctx, docs)
	if err != nil {
		return err
	}

	var resolved, failed int
	for _, res := range results {
		switch {
		case res.Error != "":
			failed++
			cmd.PrintErrf("document %q: %s\n", res.Document.ID(settings.IDField), res.Error)
		case res.Resolved:
			resolved++
		}
	}
	cmd.Printf("Seeded %d document(s), %d resolved, %d failed\n", len(docs)-failed, resolved, failed)
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

func decodeDocuments(content []byte, contentType string) ([]*document.Document, error) {
	if strings.Contains(contentType, "yaml") {
		return document.DecodeYAML(bytes.NewReader(content))
	}
	return document.DecodeJSON(bytes.NewReader(content))
}
