package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/killallgit/streamline/pkg/config"
	"github.com/killallgit/streamline/pkg/llm"
	"github.com/killallgit/streamline/pkg/logger"
	"github.com/killallgit/streamline/pkg/ollama"
	"github.com/killallgit/streamline/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stream endpoint",
	Long: `Serve POST /api/chat/stream, relaying completions from the configured
provider as server-sent events. Also serves GET /api/models and GET /healthz.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		srv, err := newServer(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		color.New(color.FgCyan, color.Bold).Fprintf(cmd.ErrOrStderr(), "streamline serving %s on %s\n", cfg.Provider, cfg.Server.Addr)
		return srv.ListenAndServe(ctx)
	},
}

// newServer builds the producer for the configured provider. A provider that
// is missing credentials still starts; each request then fails with a 500.
func newServer(cfg *config.Config) (*server.Server, error) {
	source, err := llm.DefaultRegistry().New(cfg.Provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s source: %w", cfg.Provider, err)
	}
	if err := source.Ready(); err != nil {
		logger.Warn("Provider %s is not ready: %v", source.Name(), err)
	}

	var opts []server.Option
	if cfg.Provider == "ollama" {
		client := ollama.NewClient(cfg.Ollama.URL, cfg.Ollama.Timeout)
		checkDefaultModel(client, cfg.Models.Default)
		opts = append(opts, server.WithHealthCheck(client))
	}

	models := llm.NewModels(cfg.Models.Allowed, cfg.Models.Default)
	return server.New(source, models, cfg.Server, opts...), nil
}

// checkDefaultModel warns when the fallback model is not pulled. An
// unreachable server is only logged; the health check reports it later.
func checkDefaultModel(client *ollama.Client, model string) {
	if model == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	found, err := client.CheckModel(ctx, model)
	switch {
	case err != nil:
		logger.Debug("Could not check default model %s: %v", model, err)
	case !found:
		logger.Warn("Default model %s is not installed on %s; run `ollama pull %s`", model, client.BaseURL(), model)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	serveCmd.Flags().String("provider", "", "token source: ollama, openai or anthropic")
	viper.BindPFlag("provider", serveCmd.Flags().Lookup("provider"))
}
