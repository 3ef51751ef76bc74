package main

import (
	"fmt"
	"runtime"

	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/server"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, server.Version)
				return
			}
			fmt.Fprintf(out, "glovectl %s\n", server.Version)
			fmt.Fprintf(out, "  client id:  %d\n", protocol.DefaultClientID)
			fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  os/arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
