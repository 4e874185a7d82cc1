package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	cfg         Config
	connections *ConnectionManager
	notifier    Notifier
	presence    *PresenceTracker
	rooms       *RoomManager
	queue       *MatchmakingQueue
	invites     *InviteBroker
	supervisor  *Supervisor
	identity    IdentityResolver
	rateLimiter *RateLimiter
	health      *ConnectionHealth
	store       *ResultStore  // nil without DATABASE_URL
	redis       *redis.Client // nil without REDIS_URL
	publisher   *RedisNotifier
}

// NewServer connects the optional result store and notifier and builds the
// HTTP server. Background tasks start with Run.
func NewServer(ctx context.Context, cfg Config) (*Server, *http.Server, error) {
	var store *ResultStore
	if cfg.DatabaseURL != "" {
		var err error
		store, err = NewResultStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open result store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		log.Info().Msg("Match results will be recorded to Postgres")
	} else {
		log.Warn().Msg("DATABASE_URL not set, match results will not be recorded")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		log.Info().Msg("Publishing notifications to Redis")
	}

	s := newServer(cfg, NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer), store, rdb)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, httpServer, nil
}

func newServer(cfg Config, identity IdentityResolver, store *ResultStore, rdb *redis.Client) *Server {
	connections := NewConnectionManager()

	var notifier Notifier = connections
	var publisher *RedisNotifier
	if rdb != nil {
		publisher = NewRedisNotifier(connections, rdb)
		notifier = publisher
	}

	var results ResultSink
	if store != nil {
		results = store
	}

	presence := NewPresenceTracker()
	rooms := NewRoomManager(cfg.roomConfig(), cfg.IDCooldown, presence, notifier, results)
	queue := NewMatchmakingQueue(presence, rooms, notifier)
	invites := NewInviteBroker(presence, rooms, notifier, cfg.InviteTimeout, cfg.InviteRetained)

	return &Server{
		cfg:         cfg,
		connections: connections,
		notifier:    notifier,
		presence:    presence,
		rooms:       rooms,
		queue:       queue,
		invites:     invites,
		supervisor:  NewSupervisor(presence, queue, invites, rooms, connections),
		identity:    identity,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		health:      NewConnectionHealth(),
		store:       store,
		redis:       rdb,
		publisher:   publisher,
	}
}

// Run starts the background tasks and blocks until ctx is done or one fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.heartbeatTask(ctx) })
	g.Go(func() error { return s.rateLimiterCleanupTask(ctx) })
	if s.store != nil {
		g.Go(func() error { return s.resultCleanupTask(ctx) })
	}

	return g.Wait()
}

// heartbeatTask pings every connection and closes the ones that have been
// silent for longer than IdleTimeout. A closed connection goes through the
// normal disconnect path.
func (s *Server) heartbeatTask(ctx context.Context) error {
	interval := s.cfg.IdleTimeout / 4
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, connID := range s.health.GetInactiveConnections(s.cfg.IdleTimeout) {
			if c := s.connections.GetClient(connID); c != nil {
				log.Info().Str("conn", connID).Str("user", c.UserID).Msg("Closing idle connection")
				c.Close(websocket.StatusPolicyViolation, "idle timeout")
			}
		}

		for _, c := range s.connections.Clients() {
			go func(c *Client) {
				if err := c.Ping(ctx); err == nil {
					s.health.UpdateActivity(c.ID)
				}
			}(c)
		}
	}
}

func (s *Server) rateLimiterCleanupTask(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.rateLimiter.Cleanup()
		}
	}
}

// resultCleanupTask deletes results older than ResultRetention once an hour.
func (s *Server) resultCleanupTask(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := s.store.CleanupOldResults(ctx, s.cfg.ResultRetention)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error().Err(err).Msg("Result cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Deleted old match results")
			}
		}
	}
}

// Shutdown ends every live session, closes connections after their final
// messages are flushed, then releases the store and Redis client.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.rooms.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop sessions: %w", err))
	}

	s.connections.CloseAll(websocket.StatusGoingAway, "server shutting down")

	if s.publisher != nil {
		if err := s.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush notifications: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if s.store != nil {
		s.store.Close()
	}

	log.Info().Msg("Server shutdown complete")
	return errors.Join(errs...)
}
