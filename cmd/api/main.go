package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/storyline/internal/config"
	"github.com/zhouzirui/storyline/internal/gateway"
	"github.com/zhouzirui/storyline/internal/handler"
	"github.com/zhouzirui/storyline/internal/model/questionnaire"
	model "github.com/zhouzirui/storyline/internal/model/session"
	"github.com/zhouzirui/storyline/internal/service/session"
	"github.com/zhouzirui/storyline/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	client, err := gateway.NewHTTPClient(cfg.Backend.BaseURL)
	if err != nil {
		log.Fatalf("failed to create backend client: %v", err)
	}

	repo, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer repo.Close()

	var (
		gw             gateway.Gateway = client
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		gw = gateway.Instrument(client, gateway.NewMetrics(reg))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	engine := session.NewEngine(questionnaire.Seed(), gw,
		session.WithCallTimeout(cfg.Backend.CallTimeout),
		session.WithPersister(repo),
	)
	resumeSession(ctx, engine, repo)

	router := handler.NewRouter(engine, handler.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Store:          repo,
		Metrics:        metricsHandler,
	})

	if err := startServer(ctx, cfg.Server, router); err != nil {
		log.Printf("server error: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Flush(flushCtx); err != nil {
		log.Printf("warning: session cache is stale: %v", err)
	}
}

func openStore(cfg config.StoreConfig) (store.Repository, error) {
	if cfg.Path == "" {
		log.Println("STORE_PATH empty, session cache kept in memory only")
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLite(cfg.Path)
}

// resumeSession 从本地缓存恢复上次未完成的访谈
func resumeSession(ctx context.Context, engine *session.Engine, repo store.Repository) {
	cached, err := repo.LoadSession(ctx)
	if err != nil {
		log.Printf("warning: failed to load cached session: %v", err)
		return
	}
	if cached == nil {
		log.Println("no cached session, waiting for a profile")
		return
	}

	snap, err := engine.Resume(ctx, *cached)
	if err != nil {
		log.Printf("warning: cached session discarded: %v", err)
		if err := repo.ClearSession(ctx); err != nil {
			log.Printf("warning: failed to clear cached session: %v", err)
		}
		return
	}

	// 上次退出时故事尚未取回
	if snap.Phase == model.AwaitingStory {
		go func() {
			if _, err := engine.RequestStory(context.WithoutCancel(ctx)); err != nil {
				log.Printf("[session] story fetch after resume failed: %v", err)
			}
		}()
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Storyline companion API listening on %s", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
