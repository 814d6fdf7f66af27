package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/orvale/helpdesk/internal/alert"
	"github.com/orvale/helpdesk/internal/alert/discord"
	"github.com/orvale/helpdesk/internal/alert/slack"
	"github.com/orvale/helpdesk/internal/config"
	"github.com/orvale/helpdesk/internal/db"
	"github.com/orvale/helpdesk/internal/metrics"
	"github.com/orvale/helpdesk/internal/notify"
	"github.com/orvale/helpdesk/internal/recovery"
	"github.com/orvale/helpdesk/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server and recovery manager",
		Long: `Starts the HTTP server with staff and guest websockets, restores any
in-flight recoveries from the database, and schedules the heartbeat scan and
cleanup sweep. With --watch, edits to the config file reseed and reload the
recovery settings without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload recovery settings when the config file changes")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, watch bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if closer := setupLogging(cfg.Log); closer != nil {
		defer closer.Close()
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := db.SeedRecoverySettings(gormDB, cfg.Recovery); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	met := metrics.New(cfg.Metrics.Namespace)
	hub := notify.NewHub()
	events := server.NewBroadcaster()
	pubs := notify.Fanout{hub, events}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pubs = append(pubs, notify.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix))
		log.Printf("serve: mirroring events to redis %s", cfg.Redis.Addr)
	}

	adapters, err := alertAdapters(cfg.Alerts)
	if err != nil {
		return err
	}
	if len(adapters) > 0 {
		fw := alert.NewForwarder(adapters...)
		go fw.Run(ctx)
		pubs = append(pubs, fw)
	}

	mgr, err := recovery.New(recovery.Options{
		DB:                     gormDB,
		Publisher:              pubs,
		Metrics:                met,
		LivePositions:          cfg.Queue.LivePositions,
		HeartbeatCheckInterval: cfg.Recovery.HeartbeatCheckInterval,
		CleanupInterval:        cfg.Recovery.CleanupInterval,
	})
	if err != nil {
		return err
	}
	restored, err := mgr.Restore(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		fmt.Fprintf(out, "Restored %d recoveries\n", restored)
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	reload := func(ctx context.Context) error {
		fresh, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return reseed(ctx, gormDB, mgr, fresh)
	}

	if watch {
		go func() {
			err := config.Watch(ctx, configPath, func(fresh *config.Config) {
				if err := reseed(ctx, gormDB, mgr, fresh); err != nil {
					log.Printf("serve: warning: %v", err)
				}
			})
			if err != nil {
				log.Printf("serve: warning: config watch disabled: %v", err)
			}
		}()
	}

	if port == 0 {
		port = cfg.Server.Port
	}
	return server.Start(ctx, server.StartOpts{
		DB:      gormDB,
		Manager: mgr,
		Hub:     hub,
		Events:  events,
		Metrics: met,
		Port:    port,
		Out:     out,
		Reload:  reload,
	})
}

// reseed writes the seeded recovery fields from cfg and swaps the new
// settings into the running manager.
func reseed(ctx context.Context, gormDB *gorm.DB, mgr *recovery.Manager, cfg *config.Config) error {
	if err := db.SeedRecoverySettings(gormDB.WithContext(ctx), cfg.Recovery); err != nil {
		return err
	}
	mgr.ReloadSettings(ctx)
	return nil
}

// alertAdapters builds one adapter per configured alert destination.
func alertAdapters(cfg config.AlertsConfig) ([]alert.Adapter, error) {
	var adapters []alert.Adapter
	if cfg.Slack.BotToken != "" {
		a, err := slack.New(slack.AdapterOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Discord.BotToken != "" {
		a, err := discord.New(discord.AdapterOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// setupLogging sends the standard logger to a rotating file when one is
// configured. The returned closer is nil when logging stays on stderr.
func setupLogging(cfg config.LogConfig) io.Closer {
	if cfg.File == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(lj)
	return lj
}
