package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ortelius/vulngraph/database"
	"github.com/ortelius/vulngraph/ingest"
	"github.com/ortelius/vulngraph/model"
	"github.com/spf13/cobra"
)

var serverURL string

// ingestCmd loads finding records from files
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest scanner finding records (JSON, JSON Lines or YAML)",
	Long: `Loads finding records from one or more files and upserts them into the graph.
With --server the records are posted to a running vulngraph API instead of
being written to the database directly.`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&serverURL, "server", "", "vulngraph API server URL, e.g. http://localhost:3000")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var records []model.FindingRecord
	for _, path := range args {
		recs, err := ingest.LoadRecords(path)
		if err != nil {
			return &ExitError{Code: ExitUsage, Message: fmt.Sprintf("loading %s: %v", path, err)}
		}
		records = append(records, recs...)
	}
	if len(records) == 0 {
		return &ExitError{Code: ExitUsage, Message: "no finding records found"}
	}

	var report ingest.Report
	if serverURL != "" {
		var err error
		if report, err = postFindings(ctx, http.DefaultClient, serverURL, records); err != nil {
			return fmt.Errorf("failed to upload findings: %w", err)
		}
	} else {
		store, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		report = ingest.New(store, logger).Ingest(ctx, records)
	}

	writeIngestReport(cmd.OutOrStdout(), report)
	if !report.OK() {
		return &ExitError{Code: ExitFailures, Message: fmt.Sprintf("%d of %d records failed", len(report.Failed), report.Total)}
	}
	return nil
}

// postFindings sends the batch to the API and decodes the ingestion report it answers with.
func postFindings(ctx context.Context, hc *http.Client, baseURL string, records []model.FindingRecord) (ingest.Report, error) {
	var report ingest.Report

	jsonData, err := json.Marshal(records)
	if err != nil {
		return report, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/api/v1/findings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return report, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return report, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return report, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusMultiStatus {
		return report, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, &report); err != nil {
		return report, fmt.Errorf("failed to decode response: %w", err)
	}
	return report, nil
}
