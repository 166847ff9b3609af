// Command promptbar is a terminal prompt console: it edits a file by
// sending natural-language instructions to a model, shows the resulting
// diff for review and keeps a history of accepted changes.
//
// Usage:
//
//	promptbar app.py        # interactive console editing app.py
//	promptbar history       # list saved interactions
//	promptbar config        # print the effective configuration
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/promptbar"
	"github.com/Paranoid-AF/promptbar/history"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "promptbar [file]",
		Short: "Edit a file with natural-language instructions",
		Long: `promptbar opens a console for the given file. Each line you type is sent
to the configured model together with the file content; the proposed change
is shown as a diff and written back only if you accept it.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			cfg := loadConfig()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer stop()
			return runConsole(ctx, cfg, args[0])
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(historyCmd(), configCmd(), versionCmd())
	return cmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(termWriter(os.Stderr), &slog.HandlerOptions{Level: level})))
}

func loadConfig() *promptbar.Config {
	cfg, err := promptbar.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = promptbar.DefaultConfig()
	}
	for _, w := range promptbar.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}
	return cfg
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List saved interactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			saved, err := history.ListSaved(promptbar.InteractionsDir())
			if err != nil {
				return err
			}
			if len(saved) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no saved interactions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tPROMPT\tFOLDER")
			for _, s := range saved {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					s.Interaction.CreatedAt.Format("2006-01-02 15:04:05"),
					truncate(s.Interaction.Prompt, 50),
					s.Dir)
			}
			return w.Flush()
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			cfg.Generation.BaseURL = promptbar.ResolveGenerationBaseURL(cfg)
			cfg.Generation.Model = promptbar.ResolveGenerationModel(cfg)
			cfg.Generation.APIKey = maskKey(promptbar.ResolveGenerationAPIKey(cfg))
			cfg.Embedding.BaseURL = promptbar.ResolveEmbeddingBaseURL(cfg)
			cfg.Embedding.Model = promptbar.ResolveEmbeddingModel(cfg)
			cfg.Embedding.APIKey = maskKey(promptbar.ResolveEmbeddingAPIKey(cfg))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "config file: %s\n", promptbar.ConfigPath())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "promptbar", Version)
		},
	}
}

// maskKey hides all but the last four characters of an API key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
