// Command rowbatch runs a prompt template over every row of a CSV, TSV or
// JSON file and writes the answers back out as tables.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "rowbatch",
		Short:         "Run an LLM prompt over every row of a table",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(v, cmd); err != nil {
				return err
			}
			setupLogger(v)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("no-color", false, "disable colored log output")
	bindJobFlags(root)

	root.AddCommand(newRunCmd(v), newPreviewCmd(v), newExplainCmd(v))
	return root
}

func setupLogger(v *viper.Viper) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:   level,
			NoColor: v.GetBool("no-color"),
		}),
	)
	slog.SetDefault(logger)
}
