package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tasksync/internal/agent"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Topics      []string
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Long: `Start the local agent, recover its topics and checkpoint them in the
background until interrupted.

On SIGINT or SIGTERM every topic gets a final checkpoint before exit.

Example:
  tasksync run --config ./tasksync.yaml
  tasksync run --topic team --metrics-addr :9464 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Topics, "topic", "t", nil, "additional topics to open")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runAgent(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	rt, err := loadRuntime(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, rt, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	a, err := agent.New(rt, agent.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	startErr := a.Start(ctx)
	for _, topic := range opts.Topics {
		if startErr != nil {
			break
		}
		_, startErr = a.Open(ctx, topic)
	}
	if startErr != nil {
		_ = a.Close(context.Background())
		return WrapExitError(ExitFailure, "agent failed to start", startErr)
	}

	logger.Info("agent started", "agent", rt.AgentID, "topics", a.Topics(), "mode", rt.Mode.String())
	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s started with %d topic(s).\n", rt.AgentID, len(a.Topics()))
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	// The run context is done; the final checkpoints get a fresh one.
	closeErr := a.Close(context.Background())
	if runErr != nil {
		return WrapExitError(ExitFailure, "agent error", runErr)
	}
	if closeErr != nil {
		return WrapExitError(ExitFailure, "shutdown failed", closeErr)
	}

	logger.Info("agent stopped gracefully")
	return nil
}
