package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server runs",
	Long: `Queries the API server. Without arguments, lists all runs; with a
run ID, shows detailed status for that run.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listRuns(fmt.Sprintf("%s/api/v1/runs", serverURL))
	}
	return getRunStatus(fmt.Sprintf("%s/api/v1/runs/%s/status", serverURL, args[0]), args[0])
}

func listRuns(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var runs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("Found %d run(s):\n\n", len(runs))
	for _, run := range runs {
		fmt.Printf("Run ID: %s\n", run["id"])
		fmt.Printf("  State: %s\n", run["state"])
		if cfg, ok := run["config"].(map[string]any); ok {
			fmt.Printf("  Grid: %vx%vx%v\n", cfg["nx"], cfg["ny"], cfg["nz"])
			fmt.Printf("  IC: %s\n", cfg["icType"])
		}
		fmt.Printf("  Tau: %v  Step: %v  MaxEd: %v\n", run["tau"], run["step"], run["maxEd"])
		fmt.Println()
	}
	return nil
}

func getRunStatus(url, runID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("Run: %s\n", status["id"])
	fmt.Printf("State: %s\n", status["state"])
	fmt.Println()

	if cfg, ok := status["config"].(map[string]any); ok {
		fmt.Println("Configuration:")
		fmt.Printf("  Grid: %vx%vx%v\n", cfg["nx"], cfg["ny"], cfg["nz"])
		fmt.Printf("  Tau0: %v  Dt: %v  TauMax: %v\n", cfg["tau0"], cfg["dt"], cfg["taumax"])
		fmt.Printf("  IC: %s\n", cfg["icType"])
		fmt.Printf("  Single precision: %v\n", cfg["singlePrecision"])
		fmt.Println()
	}

	fmt.Println("Progress:")
	fmt.Printf("  Tau: %v\n", status["tau"])
	fmt.Printf("  Step: %v\n", status["step"])
	fmt.Printf("  Max energy density: %v\n", status["maxEd"])

	if v, ok := status["elapsed"].(float64); ok {
		elapsed := time.Duration(v * float64(time.Second))
		fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	}
	if v, ok := status["stepsPerSec"].(float64); ok && v > 0 {
		fmt.Printf("  Throughput: %.1f steps/sec\n", v)
	}
	if msg, ok := status["error"].(string); ok && msg != "" {
		fmt.Printf("\nError: %s\n", msg)
	}
	return nil
}
