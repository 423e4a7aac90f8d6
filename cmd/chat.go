package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/ortelius/vulngraph/stream"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var multiAgent bool

// chatCmd streams an answer from the agent backend
var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask the agent backend a question and stream its reasoning",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptContext(cmd.Context())
		defer stop()

		mode := stream.ModeSingle
		if multiAgent {
			mode = stream.ModeMulti
		}
		client := stream.NewClient(cfg.Agent, logger)
		return chat(ctx, cmd.OutOrStdout(), client, mode, strings.Join(args, " "))
	},
}

func init() {
	chatCmd.Flags().BoolVar(&multiAgent, "multi", false, "Use the multi-agent pipeline")
}

// interruptContext is cancelled on Ctrl-C so an in-flight agent request is released.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

// chat prints every step as it arrives and then the aggregated answer.
func chat(ctx context.Context, w io.Writer, client *stream.Client, mode stream.Mode, message string) error {
	msg, err := client.Stream(ctx, mode, message, func(step stream.Step) {
		writeStep(w, step)
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	color.New(color.Bold).Fprintln(w, "Answer")
	fmt.Fprintln(w, msg.Text)
	if msg.ReferenceID != "" {
		fmt.Fprintf(w, "\ntrace: %s\n", msg.ReferenceID)
	}
	return nil
}

// traceCmd replays a finished agent run
var traceCmd = &cobra.Command{
	Use:   "trace <trace-id>",
	Short: "Show the recorded steps of an agent run",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []stream.ClientOption
		if cfg.Agent.RedisURL != "" {
			cache, err := stream.NewRedisTraceCache(cfg.Agent.RedisURL)
			if err != nil {
				return &ExitError{Code: ExitUsage, Message: err.Error()}
			}
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Warn("Closing trace cache failed", zap.Error(err))
				}
			}()
			opts = append(opts, stream.WithTraceCache(cache, cfg.Agent.TraceTTL))
		}

		ctx, stop := interruptContext(cmd.Context())
		defer stop()

		client := stream.NewClient(cfg.Agent, logger, opts...)
		return trace(ctx, cmd.OutOrStdout(), client, args[0])
	},
}

func trace(ctx context.Context, w io.Writer, client *stream.Client, traceID string) error {
	steps, err := client.Trace(ctx, traceID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		fmt.Fprintf(w, "No steps recorded for trace %s\n", traceID)
		return nil
	}
	for _, step := range steps {
		writeStep(w, step)
	}
	return nil
}
