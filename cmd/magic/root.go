package main

import (
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"image-magic/internal/config"
	"image-magic/internal/logging"
)

type commandContext struct {
	logLevel string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		_ = godotenv.Load()
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

// logger writes to stderr so result tables on stdout stay clean.
func (c *commandContext) logger(cfg config.Config) zerolog.Logger {
	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	fd := os.Stderr.Fd()
	terminal := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return logging.NewWithWriter(os.Stderr, level, cfg.LogFormat, terminal)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "magic",
		Short:         "Batch image edits with Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newPromptCommand())
	rootCmd.AddCommand(newOptionsCommand())

	return rootCmd
}
