package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/switchboardhq/switchboard/client"
	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/cli"
	"github.com/switchboardhq/switchboard/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "switchboard",
		Short: "Coordination hub for concurrent coding agents",
	}
	root.AddCommand(serveCmd(), initCmd(), locksCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		addr          string
		socket        string
		dbPath        string
		keysFile      string
		sweepInterval time.Duration
		sweepRetain   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination hub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := server.New(server.Config{
				Addr:          addr,
				SocketPath:    socket,
				DBPath:        dbPath,
				KeysPath:      keysFile,
				SweepInterval: sweepInterval,
				SweepRetain:   sweepRetain,
			})
			if err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			color.Green("switchboard listening on %s", addr)
			if socket != "" {
				color.Green("unix socket at %s", socket)
			}

			select {
			case err := <-errCh:
				return err
			case <-stop:
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7338", "listen address")
	cmd.Flags().StringVar(&socket, "socket", "", "optional unix socket path")
	cmd.Flags().StringVar(&dbPath, "db", "switchboard.db", "sqlite database path")
	cmd.Flags().StringVar(&keysFile, "keys-file", auth.ResolveKeysPath(), "api keys file")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "dead lease sweep interval")
	cmd.Flags().DurationVar(&sweepRetain, "sweep-retain", time.Hour, "how long dead lease rows are retained")
	return cmd
}

func initCmd() *cobra.Command {
	var (
		project  string
		keysFile string
	)
	cmd := &cobra.Command{
		Use:   "init-keys",
		Short: "Generate an API key for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cli.InitKeysFile(keysFile, project)
			if err != nil {
				return err
			}
			color.Green("key added for project %s", project)
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project the key grants access to")
	cmd.Flags().StringVar(&keysFile, "keys-file", auth.ResolveKeysPath(), "api keys file")
	return cmd
}

func locksCmd() *cobra.Command {
	var (
		baseURL string
		apiKey  string
	)
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Show active reservations across all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(baseURL, client.WithAPIKey(apiKey))
			locks, err := c.Locks(cmd.Context())
			if err != nil {
				return err
			}
			if len(locks) == 0 {
				color.Yellow("no active reservations")
				return nil
			}
			bold := color.New(color.Bold)
			for _, l := range locks {
				bold.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", l.Project, l.PathPattern)
				fmt.Fprintf(cmd.OutOrStdout(), "  held by %s until %s", l.Agent, l.ExpiresAt)
				if l.Reason != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " (%s)", l.Reason)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:7338", "hub base url")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "bearer api key")
	return cmd
}
