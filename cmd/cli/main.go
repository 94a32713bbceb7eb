package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    int
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "framesync",
		Short: "framesync - cluster frame-sync node CLI",
		Long:  `framesync inspects and steers a running framesync cluster node`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:20480", "Node diagnostics address")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 5, "Request timeout in seconds")

	// Add subcommands
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(nodesCmd())
	rootCmd.AddCommand(controlCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getJSON fetches a diagnostics endpoint into out.
func getJSON(path string, out any) error {
	client := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s%s", serverAddr, path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
