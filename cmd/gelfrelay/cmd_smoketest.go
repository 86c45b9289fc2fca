package main

import (
	"fmt"
	"log"
	"os"

	"github.com/romejiang/gelfrelay/internal/config"
	"github.com/romejiang/gelfrelay/internal/transport"
	"github.com/spf13/cobra"
)

var smokeTestCmd = &cobra.Command{
	Use:   "smoke-test",
	Short: "Test collector connectivity",
	Long:  "Open a connection to the configured collector and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		performSmokeTest(cfg)
	},
}

// performSmokeTest dials the collector once using the configured dialer
// and connect timeout.
func performSmokeTest(cfg *config.Config) {
	endpoint := cfg.Collector.Endpoint()
	fmt.Printf("Testing collector connectivity...\n")
	fmt.Printf("Collector: tcp://%s\n", endpoint.Addr())

	dialer, err := cfg.Collector.Dialer()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	manager := transport.NewManager(endpoint, dialer, cfg.Collector.ManagerConfig(), nil)
	defer manager.Close()

	if _, err := manager.Ensure(); err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Printf("Please verify the collector host and port are correct\n")
		os.Exit(1)
	}

	fmt.Printf("Success: collector is reachable\n")
}
