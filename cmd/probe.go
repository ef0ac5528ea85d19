package cmd

import (
	"strings"
	"time"

	"github.com/killallgit/streamline/pkg/client"
	"github.com/killallgit/streamline/pkg/config"
	"github.com/killallgit/streamline/pkg/llm"
	"github.com/killallgit/streamline/pkg/probe"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe [model...]",
	Short: "Measure how each model streams through the endpoint",
	Long: `Send one prompt per model to the stream endpoint and report time to first
content, total time and the number of visible updates. With no arguments every
configured model is probed. Models the server does not allow are answered by
its default model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		models := args
		if len(models) == 0 {
			models = llm.NewModels(cfg.Models.Allowed, cfg.Models.Default).List()
		}

		prompt, _ := cmd.Flags().GetString("prompt")
		pause, _ := cmd.Flags().GetDuration("pause")

		opts := []probe.Option{
			probe.WithPrompt(strings.TrimSpace(prompt)),
			probe.WithPause(pause),
		}
		if estimate, _ := cmd.Flags().GetBool("estimate-tokens"); !estimate {
			opts = append(opts, probe.WithTokenCounter(probe.EncodingCounter))
		}

		p := probe.New(cfg.Client.Endpoint, client.ConfigFrom(cfg.Client), opts...)
		results := p.ProbeAll(cmd.Context(), models)
		return probe.PrintResults(cmd.OutOrStdout(), results)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("prompt", probe.DefaultPrompt, "prompt sent to every model")
	probeCmd.Flags().Duration("pause", 2*time.Second, "wait between models")
	probeCmd.Flags().Bool("estimate-tokens", false, "estimate token counts instead of loading the model's encoding")
}
