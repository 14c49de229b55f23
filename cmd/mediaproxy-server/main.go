// cmd/mediaproxy-server/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediaproxy/internal/app"
	"mediaproxy/internal/config"
	"mediaproxy/internal/version"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the media transformation proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnvOrFile(configPath)
			if err != nil {
				return err
			}
			application := app.Build(cfg)
			application.Run()
			return application.Err()
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Identifier())
			return nil
		},
	}

	rootCmd := &cobra.Command{
		Use:   "mediaproxy-server",
		Short: "On-the-fly media transformation proxy",
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}
