package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailtracker/client"
	"mailtracker/config"
	"mailtracker/logger"
	"mailtracker/notification"
	"mailtracker/poller"
	"mailtracker/records"
	"mailtracker/service"
)

var (
	configPath string
	jsonOutput bool

	cfg *config.Config
	log *zap.Logger
	rdb *redis.Client
)

var rootCmd = &cobra.Command{
	Use:           "mailtracker",
	Short:         "Pixel-based email open tracking",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log, err = logger.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rdb != nil {
			rdb.Close()
		}
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(recordsCmd)
}

// openStore picks redis when configured and the in-memory store otherwise.
func openStore(ctx context.Context) (records.Store, error) {
	if cfg.Redis.Host == "" {
		log.Warn("redis is not configured, tracking records will not outlive this process")
		return records.NewMemoryStore(), nil
	}

	rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr(), err)
	}
	return records.NewRedisStore(rdb, cfg.Redis.KeyPrefix), nil
}

func buildNotifier() records.Notifier {
	notifiers := notification.Multi{notification.NewLogNotifier(log)}

	sender := notification.NewSender(cfg)
	if sender.Configured() && cfg.Notify.Email != "" {
		notifiers = append(notifiers, sender)
	}
	return notifiers
}

// tracking is the client side: record store, poller and send flow.
type tracking struct {
	lifecycle *records.Lifecycle
	scheduler *poller.Scheduler
	service   *service.TrackingService
}

func buildTracking(ctx context.Context) (*tracking, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	lc := records.NewLifecycle(store, buildNotifier(), log)
	statusClient := client.New(cfg.Poller.ServerURL, cfg.Poller.RequestTimeout)
	scheduler := poller.NewScheduler(statusClient, lc, log,
		poller.WithInterval(cfg.Poller.Interval),
		poller.WithMaxPolls(cfg.Poller.MaxPolls),
		poller.WithRequestTimeout(cfg.Poller.RequestTimeout))

	return &tracking{
		lifecycle: lc,
		scheduler: scheduler,
		service:   service.NewTrackingService(cfg, lc, scheduler, notification.NewSender(cfg), log),
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
