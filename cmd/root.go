package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mickamy/rockscope/internal/analyzer"
	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/logging"
)

// ConfigEnv names the environment variable consulted when --config is empty.
const ConfigEnv = "ROCKSCOPE_CONFIG"

// app is the state shared by every subcommand once the root pre-run has
// applied the configuration.
type app struct {
	configPath string
	logger     *zap.Logger
}

func (a *app) analyzer() *analyzer.Analyzer {
	return analyzer.New(a.logger, config.Active())
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "rockscope",
		Short:         "StarRocks query profile analyzer",
		Long:          `Parse StarRocks query profiles, rebuild the execution tree and point at the operators that cost the most time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			path := strings.TrimSpace(a.configPath)
			if path == "" {
				path = strings.TrimSpace(os.Getenv(ConfigEnv))
			}
			if err := config.Apply(path); err != nil {
				return err
			}
			logger, err := logging.New(config.Active().Log)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML or JSON configuration file. Falls back to $"+ConfigEnv)

	root.AddCommand(
		newAnalyzeCmd(a),
		newReportCmd(a),
		newDiffCmd(a),
		newServeCmd(a),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure. It is called
// by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// readInput returns the profile text at path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("--input is required")
	}
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

// withOutput calls fn with the file at path, or the command's stdout when
// path is empty.
func withOutput(cmd *cobra.Command, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(cmd.OutOrStdout())
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := fn(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
