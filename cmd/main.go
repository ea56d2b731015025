// Package main is the entry point for the WhatsApp AI bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/config"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/evolution"
)

const adminTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "whatsapp-ai-bridge",
		Short:         "Relay WhatsApp messages to a chat-completion model and back",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if cfgPath != "" {
				return os.Setenv("BRIDGE_CONFIG", cfgPath)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a YAML configuration file")
	root.AddCommand(serveCmd(), setupWebhookCmd(), instanceInfoCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and, when configured, the broker consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func setupWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup-webhook <instance>",
		Short: "Point an Evolution instance's webhook at WEBHOOK_URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := evolutionFromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
			defer cancel()
			return printResult(client.SetWebhook(ctx, args[0]))
		},
	}
}

func instanceInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instance-info <instance>",
		Short: "Print Evolution instance information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := evolutionFromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
			defer cancel()
			return printResult(client.InstanceInfo(ctx, args[0]))
		},
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func evolutionFromEnv() (*evolution.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return evolution.NewClient(evolution.Config{
		BaseURL:    cfg.Evolution.BaseURL,
		APIKey:     cfg.Evolution.APIKey,
		WebhookURL: cfg.Evolution.WebhookURL,
	}, newLogger())
}

func printResult(raw json.RawMessage, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
