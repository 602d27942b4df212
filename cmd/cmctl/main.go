package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &clientOptions{}
	rootCmd := &cobra.Command{
		Use:           "cmctl",
		Short:         "cmctl - operate and audit a contramind deployment",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("CMCTL_SERVER", "http://localhost:8080"), "contramind base URL")
	rootCmd.PersistentFlags().StringVar(&opts.adminToken, "admin-token", os.Getenv("CM_ADMIN_TOKEN"), "admin token for /admin routes")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "HTTP request timeout")

	rootCmd.AddCommand(verifyCmd(opts))
	rootCmd.AddCommand(keysCmd(opts))
	rootCmd.AddCommand(replayCmd(opts))
	rootCmd.AddCommand(anchorCmd(opts))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
