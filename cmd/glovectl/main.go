package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "glovectl",
		Short: "Bridge a glove tracking server to local consumers",
		Long: `glovectl connects to the glove tracking server, provisions every paired
glove and forwards pose frames to the HTTP stream, MQTT and InfluxDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "glovectl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
