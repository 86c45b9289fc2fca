package main

func init() {
	// Add subcommands
	rootCmd.AddCommand(shipCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(smokeTestCmd)

	// Root command flags. The config flag is validated per-command rather
	// than marked required so that `template` works without one.
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "Path to configuration file (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "expvar metrics listen address (overrides config)")
}
