// Command deltasync runs the AAS digital-twin synchronization agent, and
// exposes the identifier encode/decode helpers used when wiring broker
// topics and CLI arguments by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aas-deltasync/agent/internal/aasclient"
	"github.com/aas-deltasync/agent/pkg/deltasync"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deltasync",
		Short:         "AAS digital-twin synchronization agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
	root.AddCommand(newEncodeCmd(), newDecodeCmd())
	return root
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <id>",
		Short: "Print the base64url-without-padding encoding of an AAS identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), aasclient.EncodeIDBase64URL(args[0]))
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <b64>",
		Short: "Print the decoded identifier for a base64url-without-padding string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := aasclient.DecodeIDBase64URL(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// runAgent loads configuration from the environment, starts the agent, and
// blocks until SIGINT/SIGTERM.
func runAgent(ctx context.Context) error {
	opts, err := deltasync.FromEnv()
	if err != nil {
		return fmt.Errorf("deltasync: %w", err)
	}

	a, err := deltasync.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("deltasync: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(runCtx) }()

	<-runCtx.Done()
	shutdownErr := a.Shutdown()
	runErr := <-errCh
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}
