package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	lookupField string
	lookupValue string
	inputFormat string
)

func init() {
	for _, cmd := range []*cobra.Command{ingestCmd, resolveCmd} {
		cmd.Flags().StringVar(&inputFormat, "format", "", "input format: json or yaml (default from file extension)")
		rootCmd.AddCommand(cmd)
	}

	lookupCmd.Flags().StringVar(&lookupField, "field", "", "field to match (required)")
	lookupCmd.Flags().StringVar(&lookupValue, "value", "", "exact value to match (required)")
	_ = lookupCmd.MarkFlagRequired("field")
	_ = lookupCmd.MarkFlagRequired("value")

	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Resolve and index documents",
	Long: `Send documents to refmerged for reference resolution and indexing.

The input is a JSON object, a JSON array, JSON lines or YAML. With no file
or "-", documents are read from stdin.

Examples:
  # Ingest a batch
  refmerge ingest docs.json

  # Ingest YAML from stdin
  cat docs.yaml | refmerge ingest --format yaml -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, "/api/v1/documents", args)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [file]",
	Short: "Resolve documents without indexing them",
	Long: `Dry run: resolve references and print the merged documents. Nothing is
written to the store.

Examples:
  refmerge resolve doc.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, "/api/v1/resolve", args)
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Find a stored document by exact field value",
	Long: `Look up the first stored document whose field equals value, using the same
exact-match query the resolver uses.

Examples:
  refmerge lookup --field fid_s --value b`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{"field": {lookupField}, "value": {lookupValue}}
		return fetch(cmd, http.MethodGet, "/api/v1/lookup?"+q.Encode())
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a stored document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetch(cmd, http.MethodGet, "/api/v1/documents/"+url.PathEscape(args[0]))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetch(cmd, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(args[0]))
	},
}

// batchResponse matches internal/http BatchResponse
type batchResponse struct {
	Results []json.RawMessage `json:"results"`
	Failed  int               `json:"failed"`
}

func submit(cmd *cobra.Command, path string, args []string) error {
	name := "-"
	if len(args) == 1 {
		name = args[0]
	}
	content, err := readInput(cmd, name)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return fmt.Errorf("no documents to send")
	}

	var out json.RawMessage
	status, err := doRequest(http.MethodPost, path, contentTypeFor(name, inputFormat), content, &out)
	if err != nil {
		return err
	}
	if err := printJSON(cmd, out); err != nil {
		return err
	}

	if status == http.StatusMultiStatus {
		var batch batchResponse
		if err := json.Unmarshal(out, &batch); err == nil && batch.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", batch.Failed, len(batch.Results))
		}
	}
	return nil
}

func fetch(cmd *cobra.Command, method, path string) error {
	var out json.RawMessage
	if _, err := doRequest(method, path, "", nil, &out); err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return content, nil
}

// contentTypeFor picks the request content type from an explicit format or
// the file extension.
func contentTypeFor(name, format string) string {
	if format == "" {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml":
			format = "yaml"
		}
	}
	if strings.EqualFold(format, "yaml") || strings.EqualFold(format, "yml") {
		return "application/yaml"
	}
	return "application/json"
}
