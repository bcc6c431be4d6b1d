package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/relais/cache"
	"github.com/hazyhaar/relais/client"
	"github.com/hazyhaar/relais/engines"
	"github.com/hazyhaar/relais/ratelimit"
	"github.com/hazyhaar/relais/search"
	"github.com/hazyhaar/relais/shield"
	"github.com/hazyhaar/relais/transport"
)

const usage = `usage: relais [-config path] <command>

commands:
  fetch URL            fetch a page through the resilient transport
  search QUERY [MAX]   search across the configured engines
  stats                print strategy, engine, and cache stats
  serve                run as an MCP server on stdio (plus optional admin HTTP)
`

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	// Logging. MCP stdio owns stdout, so logs go to stderr.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cl, closeAll, err := build(cfg, logger)
	if err != nil {
		slog.Error("wiring", "error", err)
		os.Exit(1)
	}
	defer closeAll()

	switch args[0] {
	case "fetch":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		printJSON(cl.Fetch(ctx, args[1]))

	case "search":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		max := 10
		if len(args) > 2 {
			if max, err = strconv.Atoi(args[2]); err != nil {
				slog.Error("search: bad max", "value", args[2])
				os.Exit(2)
			}
		}
		printJSON(cl.Query(ctx, args[1], max, 30*time.Second))

	case "stats":
		stats, err := cl.Stats(ctx)
		if err != nil {
			slog.Error("stats", "error", err)
			os.Exit(1)
		}
		printJSON(stats)

	case "serve":
		if err := serve(ctx, cfg, cl, logger); err != nil && ctx.Err() == nil {
			slog.Error("serve", "error", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// build wires storage, limiter, transport, engines, and the facade.
func build(cfg *Config, logger *slog.Logger) (*client.Client, func(), error) {
	store, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("cache db: %w", err)
	}

	cch, err := cache.New(store, cache.Config{
		MaxSize: cfg.CacheMaxSize,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("cache: %w", err)
	}

	ht, err := transport.NewHTTP(transport.HTTPConfig{
		ProxyAddr: cfg.ProxyAddr,
		Logger:    logger,
	})
	if err != nil {
		cch.Close()
		return nil, nil, fmt.Errorf("transport: %w", err)
	}

	var rotator transport.Rotator
	if cfg.ControlAddr != "" {
		rotator = &transport.ControlRotator{
			Addr:     cfg.ControlAddr,
			Password: cfg.ControlPassword,
		}
	}
	mgr := transport.NewManager(ht, rotator, transport.ManagerConfig{Logger: logger})

	searx := engines.NewSearX(ht, engines.SearXConfig{
		Instances: cfg.SearXInstances,
		Logger:    logger,
	})
	ddg := engines.NewDuckDuckGo(ht, engines.DuckDuckGoConfig{Logger: logger})

	list := []engines.Engine{searx}
	if cfg.OnionEngines {
		list = append(list,
			engines.NewAhmia(ht, engines.AhmiaConfig{Logger: logger}),
			engines.NewBrave(ht, engines.BraveConfig{APIKey: cfg.BraveAPIKey}),
		)
	}
	list = append(list, ddg)

	coord := search.New(search.Config{
		Engines:   list,
		Validator: engines.NewValidator(logger),
		Logger:    logger,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MinInterval: cfg.MinInterval(),
		Logger:      logger,
	})

	cl, err := client.New(client.Config{
		Cache:       cch,
		Limiter:     limiter,
		Manager:     mgr,
		Coordinator: coord,
		Logger:      logger,
	})
	if err != nil {
		cch.Close()
		return nil, nil, err
	}

	closeAll := func() {
		if err := cch.Close(); err != nil {
			slog.Warn("cache close", "error", err)
		}
	}
	return cl, closeAll, nil
}

// serve runs the MCP server on stdio and, when configured, the admin HTTP
// endpoint alongside it.
func serve(ctx context.Context, cfg *Config, cl *client.Client, logger *slog.Logger) error {
	if cfg.AdminListen != "" {
		r := chi.NewRouter()
		for _, mw := range shield.DefaultOpsStack() {
			r.Use(mw)
		}
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		cl.AdminRoutes(r)

		srv := &http.Server{Addr: cfg.AdminListen, Handler: r}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		go func() {
			slog.Info("admin http starting", "addr", cfg.AdminListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin http", "error", err)
			}
		}()
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "relais",
		Version: "1.0.0",
	}, nil)
	cl.RegisterMCP(mcpSrv)

	slog.Info("mcp server starting on stdio")
	return mcpSrv.Run(ctx, &mcp.StdioTransport{})
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("encode output", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
