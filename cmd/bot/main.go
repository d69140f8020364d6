// Package main is the entry point of the Bybit perpetual-futures bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/your-org/bybit-perp-bot/internal/app"
	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	mode := flag.String("mode", "", "Override run mode: backtest, paper or live")
	strategyName := flag.String("strategy", "", "Override strategy: srsi or grid")
	balance := flag.Float64("balance", 0, "Override starting balance (USD)")
	days := flag.Int("days", 0, "Override backtest day range")
	optimize := flag.Bool("optimize", false, "Run parameter search in backtest mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *strategyName != "" {
		cfg.Strategy = *strategyName
	}
	if *balance > 0 {
		cfg.Trading.StartBalance = *balance
	}
	if *days > 0 {
		cfg.Backtest.Days = *days
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.SetGlobalLogLevel(cfg.LogLevel)
	logger.Info("Bybit perp bot starting...")
	logger.Infof("Loaded configuration from: %s", *configPath)
	logger.Infof("Mode: %s, strategy: %s", cfg.Mode, cfg.Strategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("Received signal %s, shutting down", sig)
		cancel()
	}()

	bot, err := app.New(cfg, app.Options{Optimize: *optimize})
	if err != nil {
		logger.Fatalf("Failed to initialize application: %v", err)
	}
	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("Bot terminated: %v", err)
	}
	logger.Info("Bot stopped")
}
