package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ritzau/ds-audit/pkg/analyzer"
	"github.com/ritzau/ds-audit/pkg/audit"
	"github.com/ritzau/ds-audit/pkg/config"
	"github.com/ritzau/ds-audit/pkg/figma"
	"github.com/ritzau/ds-audit/pkg/learning"
	"github.com/ritzau/ds-audit/pkg/logging"
	"github.com/ritzau/ds-audit/pkg/pubsub"
	"github.com/ritzau/ds-audit/pkg/rules"
	"github.com/ritzau/ds-audit/pkg/watcher"
)

const (
	reloadQuietPeriod = 300 * time.Millisecond
	reloadMaxWait     = 2 * time.Second
)

// app holds the wired components shared by every mode.
type app struct {
	rules     rules.Store
	patterns  learning.PatternStore
	engine    *rules.Engine
	learning  *learning.Service
	publisher *pubsub.SSEPublisher
	runner    *audit.Runner

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{publisher: pubsub.NewSSEPublisher()}
	a.closers = append(a.closers, a.publisher.Close)

	if err := a.openStores(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	a.engine = rules.NewEngine(a.rules)
	a.learning = learning.NewService(a.rules, a.patterns, learning.WithPublisher(a.publisher))

	var source audit.FrameSource
	if cfg.FigmaToken != "" {
		source = figma.NewClient(cfg.FigmaToken,
			figma.WithBaseURL(cfg.FigmaBaseURL),
			figma.WithTimeout(cfg.FigmaTimeout),
			figma.WithCacheSize(cfg.FrameCache),
		)
	} else {
		logging.Debug("no Figma token configured, only offline input can be audited")
	}
	a.runner = audit.NewRunner(source, analyzer.New(a.engine), a.learning, a.publisher)

	if cfg.Watch {
		if err := a.watchFiles(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg *config.Config) error {
	switch cfg.RulesStore {
	case config.StoreMemory:
		a.rules = rules.NewMemoryStore()
		a.patterns = learning.NewMemoryPatternStore()

	case config.StoreFile:
		rs, err := rules.NewFileStore(cfg.RulesFile)
		if err != nil {
			return err
		}
		ps, err := learning.NewFilePatternStore(cfg.PatternsFile)
		if err != nil {
			return err
		}
		a.rules, a.patterns = rs, ps

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.rules = rules.NewRedisStore(client, cfg.RedisPrefix)
		a.patterns = learning.NewRedisPatternStore(client, cfg.RedisPrefix)

	default:
		return fmt.Errorf("unknown rules store %q", cfg.RulesStore)
	}
	logging.Debug("opened stores", "backend", cfg.RulesStore)
	return nil
}

// watchFiles reloads the file-backed stores when they are edited on disk.
func (a *app) watchFiles(ctx context.Context, cfg *config.Config) error {
	rs, ok := a.rules.(*rules.FileStore)
	if !ok {
		logging.Warn("--watch only applies to the file store", "store", cfg.RulesStore)
		return nil
	}
	ps := a.patterns.(*learning.FilePatternStore)

	fw, err := watcher.NewFileWatcher(map[string]watcher.ChangeType{
		rs.Path(): watcher.ChangeTypeRules,
		ps.Path(): watcher.ChangeTypePatterns,
	})
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return err
	}
	a.closers = append(a.closers, fw.Stop)

	debouncer := watcher.NewDebouncer(fw.Events(), reloadQuietPeriod, reloadMaxWait)
	debouncer.Start(ctx)

	reloader := watcher.NewReloader().
		On(watcher.ChangeTypeRules, func(ctx context.Context, ev watcher.ChangeEvent) error {
			before, _ := rs.List(ctx)
			if err := rs.Reload(); err != nil {
				return err
			}
			after, err := rs.List(ctx)
			if err != nil {
				return err
			}
			logging.Info("rules reloaded", "rules", len(after))
			return a.publisher.Publish(pubsub.TopicRules, "changed", pubsub.RulesChanged{
				Added:  len(after) - len(before),
				Total:  len(after),
				Reason: "reload",
			})
		}).
		On(watcher.ChangeTypePatterns, func(ctx context.Context, ev watcher.ChangeEvent) error {
			if err := ps.Reload(); err != nil {
				return err
			}
			logging.Info("analysis history reloaded", "file", ps.Path())
			return nil
		})
	go reloader.Run(ctx, debouncer.Output())

	logging.Info("watching store files", "rules", rs.Path(), "patterns", ps.Path())
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, pubsub.ErrClosed) {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
