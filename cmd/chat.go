package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/killallgit/streamline/pkg/client"
	"github.com/killallgit/streamline/pkg/config"
	"github.com/killallgit/streamline/pkg/console"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a streamline server from the terminal",
	Long: `Start an interactive session against a stream endpoint. Replies render as
they stream in. Ctrl-C cancels the current reply; pressing it again while
idle exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		opts := []client.Option{}
		if cfg.Client.Model != "" {
			opts = append(opts, client.WithModel(cfg.Client.Model))
		}
		c := client.New(cfg.Client.Endpoint, client.ConfigFrom(cfg.Client), opts...)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-interrupts:
					if c.IsStreaming() {
						c.CancelStream()
						continue
					}
					cancel()
					return
				}
			}
		}()

		out := cmd.OutOrStdout()

		var renderOpts []console.RendererOption
		if !cfg.Client.ShowThinking {
			renderOpts = append(renderOpts, console.WithoutThinking())
		}

		renderer := console.NewRenderer(out, renderOpts...)

		if prompt, _ := cmd.Flags().GetString("prompt"); prompt != "" {
			return console.RunOnce(ctx, c, renderer, prompt)
		}

		color.New(color.FgCyan, color.Bold).Fprintf(out, "streamline chat → %s\n", cfg.Client.Endpoint)
		return console.NewREPL(c, renderer).Run(ctx, cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("endpoint", "", "stream endpoint URL (default from client.endpoint)")
	viper.BindPFlag("client.endpoint", chatCmd.Flags().Lookup("endpoint"))

	chatCmd.Flags().String("model", "", "model id to request; the server falls back to its default")
	viper.BindPFlag("client.model", chatCmd.Flags().Lookup("model"))

	chatCmd.Flags().StringP("prompt", "p", "", "send one prompt, print the reply and exit")

	chatCmd.Flags().Bool("show-thinking", true, "print <think> blocks from reasoning models")
	viper.BindPFlag("client.show_thinking", chatCmd.Flags().Lookup("show-thinking"))
}
