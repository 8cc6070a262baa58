package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/zhouzirui/storyline/internal/config"
	"github.com/zhouzirui/storyline/internal/gateway"
	"github.com/zhouzirui/storyline/internal/model/profile"
	"github.com/zhouzirui/storyline/internal/model/questionnaire"
	"github.com/zhouzirui/storyline/internal/service/session"
	"github.com/zhouzirui/storyline/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 标准输入不是终端时（管道、重定向）不打印提示符
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, interactive)
	stop()
	os.Exit(code)
}

// run 返回进程退出码，所有清理都在返回前完成
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, interactive bool) int {
	flags := flag.NewFlagSet("interview", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		name      = flags.String("name", "", "profile name")
		age       = flags.String("age", "", "profile age")
		gender    = flags.String("gender", "", "profile gender (Male, Female, Other)")
		backend   = flags.String("backend", "", "story backend base URL, overrides BACKEND_URL")
		storePath = flags.String("store", "", "SQLite file used to resume an unfinished interview")
		verbose   = flags.Bool("v", false, "print engine logs to stderr")
	)
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *verbose {
		log.SetOutput(stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	baseURL := cfg.Backend.BaseURL
	if *backend != "" {
		baseURL = *backend
	}

	client, err := gateway.NewHTTPClient(baseURL)
	if err != nil {
		fmt.Fprintf(stderr, "failed to create backend client: %v\n", err)
		return 1
	}

	opts := []session.Option{session.WithCallTimeout(cfg.Backend.CallTimeout)}
	var repo store.Repository
	if *storePath != "" {
		repo, err = store.NewSQLite(*storePath)
		if err != nil {
			fmt.Fprintf(stderr, "failed to open %s: %v\n", *storePath, err)
			return 1
		}
		defer repo.Close()
		opts = append(opts, session.WithPersister(repo))
	}

	engine := session.NewEngine(questionnaire.Seed(), client, opts...)
	if repo != nil {
		resume(ctx, engine, repo)
	}

	preset := profile.Profile{Name: *name, Age: *age, Gender: profile.Gender(*gender)}
	runErr := newConsole(engine, stdin, stdout, interactive).run(ctx, preset)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Flush(flushCtx); err != nil {
		fmt.Fprintf(stderr, "warning: progress may not be saved: %v\n", err)
	}

	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "interview stopped: %v\n", runErr)
		return 1
	}
	return 0
}

func resume(ctx context.Context, engine *session.Engine, repo store.Repository) {
	cached, err := repo.LoadSession(ctx)
	if err != nil || cached == nil {
		if err != nil {
			log.Printf("warning: failed to load cached session: %v", err)
		}
		return
	}
	if _, err := engine.Resume(ctx, *cached); err != nil {
		log.Printf("warning: cached session discarded: %v", err)
		_ = repo.ClearSession(ctx)
	}
}
