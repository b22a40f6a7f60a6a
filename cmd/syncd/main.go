package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Offline-first sync daemon for client data",
	Long: `syncd keeps a local cache and a durable mutation queue in front of an
upstream HTTP API. Reads are served cache-first with stale fallback while
offline; writes made offline are queued and drained when connectivity
returns.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, syncCmd, statusCmd, exportCmd)
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}
