package main

import (
    "os"

    "github.com/spf13/cobra"
)

// Options holds CLI options for the server.
type Options struct {
    ConfigPath string
}

func newRootCmd() *cobra.Command {
    var opts Options
    cmd := &cobra.Command{
        Use:           "intentlog-server",
        Short:         "Serve the intent log protocol and journal every intent",
        Args:          cobra.NoArgs,
        SilenceUsage:  true,
        SilenceErrors: true,
        RunE: func(cmd *cobra.Command, _ []string) error {
            return run(cmd.Context(), opts)
        },
    }
    cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    return cmd
}

func main() {
    if err := newRootCmd().Execute(); err != nil {
        _, _ = os.Stderr.WriteString("intentlog-server: " + err.Error() + "\n")
        os.Exit(1)
    }
}
