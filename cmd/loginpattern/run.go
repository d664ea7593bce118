package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"github.com/polzovatel/login-pattern-finder/internal/agent"
	"github.com/polzovatel/login-pattern-finder/internal/browser"
	"github.com/polzovatel/login-pattern-finder/internal/config"
	"github.com/polzovatel/login-pattern-finder/internal/llm"
	"github.com/polzovatel/login-pattern-finder/internal/proposal"
	"github.com/polzovatel/login-pattern-finder/internal/snapshot"
	"github.com/polzovatel/login-pattern-finder/internal/store"
)

func runAnalyze(ctx context.Context, cfg config.Config, target string, out io.Writer) error {
	logger := newLogger(cfg.LogLevel, os.Stderr)
	reg := prometheus.NewRegistry()
	metrics := agent.NewMetrics(reg)
	defer pushMetrics(cfg.Pushgateway, reg, logger)

	client, err := llm.New(ctx, cfg.LLM.Provider, cfg.LLM.Model, component(logger, "llm"))
	if err != nil {
		return fmt.Errorf("llm init: %w", err)
	}

	launcher, err := browser.NewLauncher(cfg.Headless, component(logger, "browser"))
	if err != nil {
		return fmt.Errorf("browser init: %w", err)
	}
	defer launcher.Close()

	ctrl, err := launcher.NewController()
	if err != nil {
		return fmt.Errorf("browser controller: %w", err)
	}
	defer ctrl.Close()

	if err := ctrl.Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}

	orch := agent.NewOrchestrator(
		ctrl,
		snapshot.NewCollector(ctrl),
		proposal.New(client, component(logger, "proposer"), cfg.PromptVerbose),
		agent.OptionsFromConfig(cfg),
		logger,
		metrics,
	)
	res, err := orch.Analyze(ctx)
	if err != nil {
		return err
	}

	domain := res.Domain
	if domain == "" {
		domain = target
	}
	st := store.Open(cfg.SavePathJSON, cfg.SavePathYAML, component(logger, "store"))
	st.Put(domain, res.Record)
	if err := st.Save(); err != nil {
		return fmt.Errorf("save patterns: %w", err)
	}
	logger.Info().
		Str("domain", domain).
		Str("json", cfg.SavePathJSON).
		Str("yaml", cfg.SavePathYAML).
		Msg("patterns saved")

	return writeRecord(out, res.Record)
}

func writeRecord(out io.Writer, rec store.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("comp", name).Logger()
}

func pushMetrics(url string, g prometheus.Gatherer, logger zerolog.Logger) {
	if url == "" {
		return
	}
	if err := push.New(url, "loginpattern").Gatherer(g).Push(); err != nil {
		logger.Warn().Err(err).Str("pushgateway", url).Msg("push metrics")
	}
}
