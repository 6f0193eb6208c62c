package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zfogg/orbit/internal/auth"
	"github.com/zfogg/orbit/internal/client"
	"go.uber.org/zap"
)

var (
	apiURL  string
	token   string
	timeout time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "orbit-cli",
	Short:         "Orbit CLI - friend messaging from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("ORBIT_API_URL", "http://localhost:8787/api/v1"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ORBIT_TOKEN"), "bearer token (default $ORBIT_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log HTTP traffic")

	rootCmd.AddCommand(conversationsCmd, openCmd, unreadCmd, sendCmd, historyCmd, readCmd, readStatusCmd, deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// api builds a client from the global flags
func api() (*client.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("no token: pass --token or set ORBIT_TOKEN")
	}
	log := zap.NewNop()
	if verbose {
		log, _ = zap.NewDevelopment()
	}
	return client.New(apiURL, token, timeout, log), nil
}

// self returns the user id the token was issued to
func self() (string, error) {
	return auth.SubjectOf(token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
