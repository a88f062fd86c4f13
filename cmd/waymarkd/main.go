package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/waymark-labs/waymark/internal/auth"
	"github.com/waymark-labs/waymark/internal/config"
	"github.com/waymark-labs/waymark/internal/health"
	"github.com/waymark-labs/waymark/internal/httpserver"
	"github.com/waymark-labs/waymark/internal/kakao"
	"github.com/waymark-labs/waymark/internal/llm"
	"github.com/waymark-labs/waymark/internal/logging"
	"github.com/waymark-labs/waymark/internal/metrics"
	"github.com/waymark-labs/waymark/internal/roadmap"
	"github.com/waymark-labs/waymark/internal/store"
	storepostgres "github.com/waymark-labs/waymark/internal/store/postgres"
	storesqlite "github.com/waymark-labs/waymark/internal/store/sqlite"
	"github.com/waymark-labs/waymark/internal/usage"
	usageasync "github.com/waymark-labs/waymark/internal/usage/async"
	usagepostgres "github.com/waymark-labs/waymark/internal/usage/postgres"
	usagesqlite "github.com/waymark-labs/waymark/internal/usage/sqlite"
	"github.com/waymark-labs/waymark/internal/version"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize rotating file logging (default enabled when log_file provided)
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	logTarget := strings.TrimSpace(cfg.LogFile)
	if logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[waymarkd] ")
		defer rot.Close()
	}

	log.Printf("waymarkd %s starting env=%s", version.Info(), cfg.Environment)

	roadmapStore, err := openRoadmapStore(cfg)
	if err != nil {
		log.Fatalf("open roadmap store: %v", err)
	}
	defer roadmapStore.Close()
	log.Printf("roadmap store ready driver=%s", cfg.StoreDriver)

	rawUsage, usagePinger, err := openUsageStore(cfg)
	if err != nil {
		log.Fatalf("open usage store: %v", err)
	}
	usageStore := usageasync.New(rawUsage, usageasync.Config{
		FlushInterval: cfg.UsageFlush,
		ChannelBuffer: cfg.UsageBuffer,
		NumWorkers:    cfg.UsageWorkers,
		Logger:        log.New(log.Writer(), "[waymarkd/usage] ", log.LstdFlags|log.Lmicroseconds),
	})
	// Draining the async writer also closes the underlying store.
	defer usageStore.Close()
	log.Printf("usage store ready driver=%s buffer=%d workers=%d", cfg.UsageDriver, cfg.UsageBuffer, cfg.UsageWorkers)

	source, err := buildSource(cfg)
	if err != nil {
		log.Fatalf("init generation source: %v", err)
	}

	prompts := llm.DefaultPromptPack()
	if cfg.PromptPackPath != "" {
		prompts, err = llm.LoadPromptPack(cfg.PromptPackPath)
		if err != nil {
			log.Fatalf("load prompt pack: %v", err)
		}
		log.Printf("prompt pack loaded from %s", cfg.PromptPackPath)
	}

	authManager := auth.NewManager(cfg.SessionSecret, cfg.SessionTTL)

	var kakaoClient *kakao.Client
	if strings.TrimSpace(cfg.KakaoClientID) != "" {
		kakaoClient, err = kakao.NewClient(kakao.Config{
			ClientID:     cfg.KakaoClientID,
			ClientSecret: cfg.KakaoClientSecret,
			RedirectURI:  cfg.KakaoRedirectURI,
			AuthBaseURL:  cfg.KakaoAuthBaseURL,
			APIBaseURL:   cfg.KakaoAPIBaseURL,
		}, nil)
		if err != nil {
			log.Fatalf("init kakao client: %v", err)
		}
		if cfg.LogLevel == "debug" {
			kakaoClient.SetLogger(log.New(log.Writer(), "[waymarkd/kakao] ", log.LstdFlags|log.Lmicroseconds))
		}
	} else {
		log.Printf("kakao login disabled: no client id configured")
	}

	collector := metrics.NewCollector()
	checker := health.New(health.Config{
		RoadmapStore: roadmapStore,
		UsageStore:   usagePinger,
		ModelBaseURL: modelHealthURL(cfg),
	})

	svc, err := roadmap.New(roadmap.Config{
		Store:           roadmapStore,
		Source:          source,
		Prompts:         prompts,
		Usage:           usageStore,
		Metrics:         collector,
		Logger:          log.New(log.Writer(), "[waymarkd/roadmap] ", log.LstdFlags|log.Lmicroseconds),
		GenerateTimeout: cfg.GenerateTimeout,
	})
	if err != nil {
		log.Fatalf("init roadmap service: %v", err)
	}

	httpSrv := httpserver.New(httpserver.Config{
		Service:             svc,
		Store:               roadmapStore,
		Usage:               usageStore,
		Auth:                authManager,
		Kakao:               kakaoClient,
		Health:              checker,
		Metrics:             collector,
		CookieName:          cfg.CookieName,
		CookieSecure:        cfg.CookieSecure,
		DefaultProfileImage: cfg.DefaultProfileImg,
		Logger:              log.New(log.Writer(), "[waymarkd/http] ", log.LstdFlags|log.Lmicroseconds),
		LogLevel:            cfg.LogLevel,
	})

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// Guide and assistant streams hold the response open longer than any
		// sane fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("waymark server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	log.Printf("waymarkd stopped")
}

func openRoadmapStore(cfg config.ServerConfig) (store.Store, error) {
	if cfg.StoreDriver == "postgres" {
		return storepostgres.New(cfg.StoreDSN)
	}
	return storesqlite.New(cfg.StorePath)
}

func openUsageStore(cfg config.ServerConfig) (usage.Store, health.Pinger, error) {
	if cfg.UsageDriver == "postgres" {
		st, err := usagepostgres.New(cfg.UsageDSN, usagepostgres.DefaultConfig())
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}
	st, err := usagesqlite.New(cfg.UsagePath)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

func buildSource(cfg config.ServerConfig) (llm.Client, error) {
	if cfg.GenerationSource == "scripted" {
		log.Printf("generation source: scripted (offline mode)")
		return llm.NewScripted(), nil
	}
	log.Printf("generation source: openai model=%s", cfg.Model)
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.Model,
	})
}

func modelHealthURL(cfg config.ServerConfig) string {
	if cfg.GenerationSource == "scripted" {
		return ""
	}
	if cfg.OpenAIBaseURL != "" {
		return cfg.OpenAIBaseURL
	}
	return "https://api.openai.com/v1"
}
