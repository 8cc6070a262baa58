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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/storyline/internal/config"
	"github.com/zhouzirui/storyline/internal/handler"
	"github.com/zhouzirui/storyline/internal/service/answers"
	emotionservice "github.com/zhouzirui/storyline/internal/service/emotion"
	"github.com/zhouzirui/storyline/internal/service/story"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize chat model shared by the emotion classifier and the story chain
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to create chat model: %v", err)
			log.Println("continuing with template stories - 请检查 Ark 模型相关环境变量")
			chatModel = nil
		}
	} else {
		log.Println("Ark 凭证未配置，使用模板生成故事")
	}

	emotionCfg := emotionservice.Config{
		Enabled:      cfg.AI.EmotionLLMEnabled,
		HistoryLimit: cfg.AI.EmotionHistoryLimit,
	}
	emotionSvc, err := emotionservice.NewService(ctx, chatModel, emotionCfg)
	if err != nil {
		log.Fatalf("failed to initialize emotion service: %v", err)
	}
	if emotionSvc.Enabled() {
		log.Println("Emotion classifier service enabled")
	} else if emotionCfg.Enabled {
		log.Println("Emotion classifier requested but chat model unavailable, falling back to heuristics")
	}

	var generator story.Generator = story.TemplateGenerator{}
	if chatModel != nil {
		llm, err := story.NewLLMGenerator(ctx, chatModel)
		if err != nil {
			log.Printf("warning: failed to initialize story chain: %v", err)
		} else {
			generator = story.Fallback{Primary: llm, Secondary: story.TemplateGenerator{}}
			log.Println("Story chain initialized successfully")
		}
	}

	answerSvc := answers.NewService(emotionSvc)
	router := handler.NewBackendRouter(answerSvc, generator, cfg.CORS.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Storyd.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Storyline reference backend listening on %s", srv.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
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
