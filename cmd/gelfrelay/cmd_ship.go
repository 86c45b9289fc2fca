package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/romejiang/gelfrelay/internal/config"

	"github.com/spf13/cobra"
)

var shipCmd = &cobra.Command{
	Use:   "ship",
	Short: "Ship messages from stdin to the collector",
	Long:  "Read newline-delimited GELF messages from stdin and deliver each to the configured collector, then exit. The exit code is non-zero if any message was dropped.",
	Run:   handleShipCmd,
}

func handleShipCmd(cmd *cobra.Command, args []string) {
	setupLogging(logLevel)

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	sender, dlqWriter, err := buildSender(cfg)
	if err != nil {
		slog.Error("failed to initialize transport", "error", err)
		os.Exit(1)
	}
	defer func() {
		sender.Close()
		if dlqWriter != nil {
			if err := dlqWriter.Close(); err != nil {
				slog.Warn("failed to close DLQ", "error", err)
			}
		}
	}()

	var shipped, dropped int
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if sender.Send(context.Background(), line) {
			shipped++
		} else {
			dropped++
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("failed to read stdin", "error", err)
		os.Exit(1)
	}

	fmt.Printf("shipped %d, dropped %d\n", shipped, dropped)
	if dropped > 0 {
		os.Exit(1)
	}
}
