package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/config"
	"github.com/gridswap/go-station-ops/internal/station/correlate"
	"github.com/gridswap/go-station-ops/internal/station/orchestrator"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/gridswap/go-station-ops/internal/station/transport"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PROVIDERS - component constructors live here so InitNewServer can assemble
// them in dependency order without each package importing config plumbing.

func NewClock(t ...*testing.T) time2.Clock {
	useMock := len(t) > 0 && t[0] != nil
	if useMock {
		return time2.NewMockClock(time.Now())
	}
	return time2.DefaultClock
}

func NewRedisClient(cfg config.Server) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}

	return client, nil
}

func NewTransport(cfg config.Server, client *redis.Client) transport.Transport {
	return transport.NewRedisTransport(client, cfg.Redis.SubjectPrefix)
}

func NewSessionStore(cfg config.Server) storage.SessionStore {
	return storage.NewBackendStore(cfg.Backend, &http.Client{Timeout: cfg.Backend.Timeout})
}

func NewCorrelationClient(cfg config.Server, bus transport.Transport, clock time2.Clock) *correlate.Client {
	return correlate.New(bus, clock, cfg.Station.CorrelationTimeout)
}

// ActorFromConfig builds the acting credentials this terminal stamps on
// every session it opens.
func ActorFromConfig(cfg config.Server) session.Actor {
	return session.Actor{
		Role:        "station_operator",
		ID:          cfg.Station.OperatorID,
		DisplayName: cfg.Station.OperatorName,
		Station:     cfg.Station.StationID,
		CompanyID:   cfg.Station.CompanyID,
	}
}

func NewStationService(cfg config.Server, store storage.SessionStore, correlator *correlate.Client, clock time2.Clock) *orchestrator.Service {
	return orchestrator.NewService(store, correlator, clock, cfg, ActorFromConfig(cfg))
}

// InitNewServer assembles all server components in dependency order. The
// router is attached separately by router.Init.
func InitNewServer(cfg config.Server) (*Server, error) {
	s := NewServer(cfg)

	redisClient, err := NewRedisClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init redis client")
	}

	s.Clock = NewClock()
	s.Redis = redisClient
	s.Bus = NewTransport(cfg, redisClient)
	s.Store = NewSessionStore(cfg)
	s.Correlator = NewCorrelationClient(cfg, s.Bus, s.Clock)
	s.Station = NewStationService(cfg, s.Store, s.Correlator, s.Clock)

	return s, nil
}
