package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/killallgit/streamline/pkg/config"
	"github.com/killallgit/streamline/pkg/llm"
	"github.com/killallgit/streamline/pkg/logger"
	"github.com/killallgit/streamline/pkg/ollama"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models requests may ask for",
	Long: `List the configured models. With --installed, list the models downloaded
to the Ollama server, marking which ones requests may use and which are loaded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		models := llm.NewModels(cfg.Models.Allowed, cfg.Models.Default)

		installed, _ := cmd.Flags().GetBool("installed")
		if !installed {
			printModels(cmd.OutOrStdout(), models)
			return nil
		}

		client := ollama.NewClient(cfg.Ollama.URL, cfg.Ollama.Timeout)
		tags, err := client.Tags(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list models from %s: %w", client.BaseURL(), err)
		}
		loaded := make(map[string]bool)
		if ps, err := client.Ps(cmd.Context()); err != nil {
			logger.Warn("Could not list loaded models: %v", err)
		} else {
			for _, m := range ps.Models {
				loaded[m.Name] = true
			}
		}
		return printInstalled(cmd.OutOrStdout(), tags, models, loaded)
	},
}

func printModels(w io.Writer, models llm.Models) {
	for _, name := range models.List() {
		if name == models.Fallback() {
			fmt.Fprintf(w, "%s (default)\n", name)
			continue
		}
		fmt.Fprintln(w, name)
	}
}

func printInstalled(w io.Writer, tags *ollama.TagsResponse, models llm.Models, loaded map[string]bool) error {
	if len(tags.Models) == 0 {
		fmt.Fprintln(w, "No models installed")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tFAMILY\tALLOWED\tLOADED")
	for _, m := range tags.Models {
		_, allowed := models.Resolve(m.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", m.Name, formatSize(m.Size), m.Details.Family, allowed, loaded[m.Name])
	}
	return tw.Flush()
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().Bool("installed", false, "query the Ollama server for downloaded models")
}
