package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/polzovatel/login-pattern-finder/internal/config"
)

// flagKeys maps CLI flags onto config keys.
var flagKeys = map[string]string{
	"wait-after-click": "wait_after_click_ms",
	"click-timeout":    "click_timeout_ms",
	"save-json":        "save_path_json",
	"save-yaml":        "save_path_yaml",
	"verbose":          "prompt_verbose",
	"placeholder":      "placeholder_credential",
	"headless":         "headless",
	"log-level":        "log_level",
	"pushgateway":      "pushgateway",
	"provider":         "llm.provider",
	"model":            "llm.model",
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgPath string

	root := &cobra.Command{
		Use:          "loginpattern",
		Short:        "Infer reusable selector patterns for a site's login form",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./loginpattern.yaml if present)")

	root.AddCommand(newAnalyzeCmd(v, &cfgPath))
	return root
}

func newAnalyzeCmd(v *viper.Viper, cfgPath *string) *cobra.Command {
	analyze := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Open url, classify its login flow and store the patterns",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *cfgPath)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	}
	d := config.Defaults()
	f := analyze.Flags()
	f.Int("wait-after-click", d.WaitAfterClickMs, "settle time in ms after triggering the first step")
	f.Int("click-timeout", d.ClickTimeoutMs, "click timeout in ms")
	f.String("save-json", d.SavePathJSON, "JSON store path")
	f.String("save-yaml", d.SavePathYAML, "YAML mirror path")
	f.BoolP("verbose", "v", d.PromptVerbose, "log prompts, replies and classification decisions")
	f.String("placeholder", d.PlaceholderCredential, "value typed into the first-step field")
	f.Bool("headless", d.Headless, "run chromium headless")
	f.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	f.String("pushgateway", d.Pushgateway, "prometheus pushgateway url")
	f.String("provider", d.LLM.Provider, "llm provider (anthropic, openai, gemini)")
	f.String("model", d.LLM.Model, "llm model (provider default when empty)")

	return analyze
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}
