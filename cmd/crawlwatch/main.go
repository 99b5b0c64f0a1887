package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/okjin/crawlwatch/internal/api"
	"github.com/okjin/crawlwatch/internal/config"
	"github.com/okjin/crawlwatch/internal/dashboard"
	"github.com/okjin/crawlwatch/internal/history"
	"github.com/okjin/crawlwatch/internal/notify"
	"github.com/okjin/crawlwatch/internal/repository"
	"github.com/okjin/crawlwatch/internal/task"
	"github.com/okjin/crawlwatch/internal/track"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		mode        = flag.String("mode", "sequential", "crawl mode: sequential or parallel")
		concurrency = flag.Int("concurrency", 3, "parallel crawl concurrency")
		limit       = flag.Int("limit", 0, "limit the number of URLs (0 = all)")
		force       = flag.Bool("force", false, "recrawl URLs that already have results")
		updateLinks = flag.Bool("update-links", false, "update menu links after crawling")
		urlIDs      = flag.String("url-ids", "", "comma-separated URL ids to crawl")
		restoreOnly = flag.Bool("restore", false, "only reattach to a task already running on the backend")
	)
	flag.Parse()

	cfg := config.Load()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatal("failed to set up history store", "error", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close history store", "error", err)
		}
	}()

	center := notify.NewCenter(buildSinks(cfg)...)
	controller := track.NewController(api.NewClient(cfg.BackendURL), store, center)
	controller.SetWatchdogInterval(cfg.WatchdogInterval)
	controller.SetGraceInterval(cfg.GraceInterval)

	dash := dashboard.NewDashboard(controller, center)

	if cfg.PostgresDSN != "" {
		archive, err := buildArchive(cfg)
		if err != nil {
			log.Fatal("failed to set up archive", "error", err)
		}
		defer func() {
			if err := archive.Close(); err != nil {
				log.Warn("failed to close archive", "error", err)
			}
		}()
		controller.SetArchive(archive)
		dash.SetArchive(archive)
	}

	controller.OnUpdate(func(t *task.Task) {
		log.Info("task update",
			"task_id", t.ID,
			"status", t.Status,
			"progress", t.Progress,
			"success", t.SuccessCount,
			"failed", t.FailedCount,
			"message", t.Message,
		)
	})

	go serveLocal(cfg.ListenAddr, dash)

	if err := controller.Restore(ctx); err != nil {
		log.Warn("failed to restore previous tasks", "error", err)
	}

	if !*restoreOnly && controller.Current() == nil {
		opts := api.LaunchOptions{
			Mode:            *mode,
			Concurrency:     *concurrency,
			ForceRecrawl:    *force,
			UpdateMenuLinks: *updateLinks,
			Limit:           *limit,
			URLIDs:          parseIDs(*urlIDs),
		}
		if err := controller.Start(ctx, opts); err != nil {
			log.Fatal("failed to start crawl", "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down, detaching from task")
	controller.Cancel()
	cancel()
}

func buildStore(cfg *config.Config) (history.Store, error) {
	if cfg.RedisAddr != "" {
		log.Info("using Redis history store", "addr", cfg.RedisAddr)
		return history.NewRedisStore(cfg.RedisAddr)
	}
	return history.NewMemoryStore(), nil
}

func buildArchive(cfg *config.Config) (*repository.PostgresArchive, error) {
	log.Info("archiving finished tasks to PostgreSQL")
	return repository.NewPostgresArchive(cfg.PostgresDSN)
}

func buildSinks(cfg *config.Config) []notify.Sink {
	sinks := []notify.Sink{notify.LogSink{}}
	if cfg.EmailEnabled {
		log.Info("e-mail notifications enabled", "to", cfg.EmailTo)
		sinks = append(sinks, notify.NewEmailSink(
			cfg.EmailAPIKey,
			cfg.EmailFromName,
			cfg.EmailFromAddress,
			cfg.EmailTo,
		))
	}
	return sinks
}

func serveLocal(addr string, dash *dashboard.Dashboard) {
	mux := http.NewServeMux()
	dash.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	log.Info("local status endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("local status endpoint stopped", "error", err)
	}
}

func parseIDs(raw string) []int {
	if raw == "" {
		return nil
	}
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			log.Warn("skipping invalid url id", "value", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
