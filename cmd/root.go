// Package cmd implements the vulngraph command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/ortelius/vulngraph/config"
	"github.com/ortelius/vulngraph/logging"
	"github.com/ortelius/vulngraph/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ExitError signals a non-zero exit code with an optional message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// Exit codes.
const (
	ExitFailures = 1
	ExitUsage    = 2
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger = zap.NewNop()
)

// defaultConfigFile is picked up from the working directory when neither --config nor
// VULNGRAPH_CONFIG names a file.
const defaultConfigFile = "vulngraph.yaml"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vulngraph",
	Short: "Security finding graph with AI-assisted correlation",
	Long: `vulngraph loads scanner findings into an ArangoDB graph, links findings
that share a root cause with the help of an LLM, and talks to the agent
backend that explains them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	})

	rootCmd.AddCommand(serveCmd, ingestCmd, enrichCmd, chatCmd, traceCmd)
}

// setup loads the configuration and builds the shared logger before any subcommand runs.
func setup(_ *cobra.Command, _ []string) error {
	c, err := config.Load(configPath())
	if err != nil {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if verbose {
		c.Logger.Level = "debug"
	}

	cfg = c
	logger = logging.New(c.Logger)
	zap.RedirectStdLog(logger)
	return nil
}

func configPath() string {
	path := util.FirstNonEmpty(cfgFile, util.GetEnvDefault("VULNGRAPH_CONFIG", ""))
	if path == "" && util.FileExists(defaultConfigFile) {
		return defaultConfigFile
	}
	return path
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Message != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", exitErr.Message)
		}
		os.Exit(exitErr.Code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitFailures)
}

// usageArgs wraps a cobra argument validator so that violations exit with the usage code.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &ExitError{Code: ExitUsage, Message: err.Error()}
		}
		return nil
	}
}
