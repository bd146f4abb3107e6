package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Open-Course-Factory/ocf-coursegen/pkg/models"
)

// RedisConfig contient les paramètres de connexion Redis
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisPublisher publie chaque événement en JSON sur le canal <prefix>:<job_id>
type RedisPublisher struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPublisher ouvre la connexion et vérifie qu'elle répond
func NewRedisPublisher(cfg RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "course"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr), zap.String("channel_prefix", prefix))

	return &RedisPublisher{rdb: rdb, prefix: prefix, logger: logger.Named("events")}, nil
}

// Channel retourne le canal d'un job
func (p *RedisPublisher) Channel(jobID string) string {
	return p.prefix + ":" + jobID
}

func (p *RedisPublisher) Publish(ctx context.Context, event *models.ProgressEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode progress event: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.Channel(event.JobID), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// Client expose la connexion pour les autres usages Redis du service
func (p *RedisPublisher) Client() *goredis.Client {
	return p.rdb
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
