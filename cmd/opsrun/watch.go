package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/opsagent/orchestrator/internal/streaming"
)

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Follow a conversation's progress notices relayed through Redis",
	Long: `watch subscribes to the Redis channel that orchestrator replicas mirror
notices to (streaming.redis_relay) and prints them until interrupted.`,
	Example: `  opsrun watch 6f1c2a9e-3b0d-4c57-9e55-0d2b7c1e8a41`,
	Args:    cobra.ExactArgs(1),
	RunE:    runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: 5 * time.Second,
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := streaming.NewRedisRelay(client, cfg.Streaming.MaxBacklog, logger)
	defer relay.Close()

	notices, err := relay.Subscribe(ctx, args[0])
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", streaming.Channel(args[0]), err)
	}
	printStatus("●", fmt.Sprintf("watching %s (Ctrl-C to stop)", args[0]), color.FgCyan)
	return follow(ctx, notices)
}

func follow(ctx context.Context, notices <-chan streaming.Notice) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			printNotice(n)
		}
	}
}
