// Package main implements the refmerge CLI for manual operations against
// the refmerged HTTP server and the document store.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the refmerged HTTP server
	serverURL string
	// timeout bounds every HTTP request
	timeout time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "refmerge",
	Short: "CLI for refmerged operations",
	Long: `refmerge is a command-line interface for the refmerged daemon.
It submits documents for reference resolution, inspects the document store
and seeds it directly from files.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "refmerged server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check refmerged server health",
	Long: `Check the health status of the refmerged server and its document store.

Examples:
  # Check health
  refmerge health

  # Check health on a different server
  refmerge health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("refmerge %s\n", version)
	},
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Error     string `json:"error,omitempty"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var health HealthResponse
	status, err := doRequest(http.MethodGet, "/health", "", nil, &health)
	if err != nil && status != http.StatusServiceUnavailable {
		return err
	}

	cmd.Printf("Server Status: %s\n", health.Status)
	cmd.Printf("Server URL: %s\n", serverURL)
	cmd.Printf("Documents: %d\n", health.Documents)
	if health.Error != "" {
		return fmt.Errorf("store unavailable: %s", health.Error)
	}
	return nil
}

// doRequest sends body to path and decodes a JSON response into out. The
// status code is returned alongside errors so callers can tell partial
// success (207) and unavailability apart.
func doRequest(method, path, contentType string, body []byte, out any) (int, error) {
	url := serverURL + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMultiStatus {
		return resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return resp.StatusCode, nil
}

// printJSON writes v indented to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
