package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	convctx "github.com/sachiniyer/meal-finder/internal/context"
	"github.com/sachiniyer/meal-finder/internal/gateway"
	"github.com/sachiniyer/meal-finder/internal/run"
	"github.com/sachiniyer/meal-finder/internal/scheduler"
	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/tools"
	"github.com/sachiniyer/meal-finder/pkg/llm"
	"github.com/sachiniyer/meal-finder/pkg/llm/openai"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel)

	if cfg.APIToken == "" {
		return fmt.Errorf("api_token is not configured; set it in %s or MEALFINDER_API_TOKEN", cfgPath)
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is not configured; set it in %s or OPENAI_API_KEY", cfgPath)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	conversations := state.NewConversationStore(cfg.DataDir)
	places := state.NewPlaceStore(cfg.DataDir)
	cache := state.NewCacheStore(cfg.DataDir)

	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	engine, err := convctx.NewEngine("cl100k_base", cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve, logger)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}

	retry := tools.DefaultRetryPolicy(logger)
	maps := tools.NewMapsClient(
		cfg.GoogleMaps.APIKey,
		cfg.GoogleMaps.SearchEndpoint,
		cfg.GoogleMaps.PlacesEndpoint,
		cfg.GoogleMaps.PhotosEndpoint,
		retry, logger)
	yelp := tools.NewYelpClient(cfg.Yelp.APIKey, cfg.Yelp.BaseURL, retry)
	exa := tools.NewExaClient(cfg.Exa.APIKey, cfg.Exa.BaseURL, retry)

	registry := tool.NewRegistry(logger)
	registry.Register(tools.NewSearchMapsTool(maps, conversations, places, cache, logger))
	registry.Register(tools.NewDescribePlaceTool(maps, places, cache, logger))
	registry.Register(tools.NewDescribeImagesTool(provider, cfg.LLM.VisionModel, maps, places, cache, logger))
	registry.Register(tools.NewExtractImageInfoTool(provider, cfg.LLM.VisionProModel, maps, places, cache, logger))
	registry.Register(tools.NewYelpReviewsTool(yelp, places, cache, logger))
	registry.Register(tools.NewSearchWebsiteTool(exa, cache, logger))
	registry.Register(tools.NewFetchChatDataTool(conversations))
	registry.Register(tools.NewStoredPlacesTool(conversations, places))
	registry.Register(tools.NewUserLocationTool(conversations))

	coordinator := run.NewCoordinator(provider, registry, engine, conversations,
		cfg.MaxConcurrent, cfg.MaxToolRounds, logger)

	gw := gateway.New(conversations, places, coordinator, logger)
	server := gateway.NewServer(cfg.HTTP.Listen, gw, cfg.APIToken, logger)

	var ttl time.Duration
	if cfg.Cache.TTL != "" {
		ttl, err = time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("parse cache.ttl: %w", err)
		}
	}
	sched, err := scheduler.New(cache, cfg.Cache.SweepSchedule, ttl, logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	sched.Stop()
	coordinator.Shutdown()
	logger.Info("shutdown complete")
	return nil
}
