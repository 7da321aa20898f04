package api

import (
	"context"
	"net/http"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/config"
	"github.com/gridswap/go-station-ops/internal/station/correlate"
	"github.com/gridswap/go-station-ops/internal/station/orchestrator"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/gridswap/go-station-ops/internal/station/transport"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Router struct {
	Routes       []*echo.Route
	Root         *echo.Group
	Management   *echo.Group
	APIV1Station *echo.Group
}

// Server is the central struct keeping all the dependencies. Components are
// initialized in order by InitNewServer in providers.go; Echo and Router are
// attached afterwards by router.Init.
type Server struct {
	Echo   *echo.Echo
	Router *Router

	Config     config.Server
	Clock      time2.Clock
	Redis      *redis.Client
	Bus        transport.Transport
	Store      storage.SessionStore
	Correlator *correlate.Client
	Station    *orchestrator.Service
}

func NewServer(cfg config.Server) *Server {
	return &Server{
		Config: cfg,
	}
}

func (s *Server) Ready() bool {
	if s.Echo == nil || s.Router == nil || s.Clock == nil ||
		s.Bus == nil || s.Store == nil || s.Correlator == nil || s.Station == nil {
		log.Debug().Msg("Server is not fully initialized")
		return false
	}
	return true
}

func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}
	return s.Echo.Start(s.Config.Echo.ListenAddress)
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")
		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if closer, ok := s.Bus.(interface{ Close() error }); ok && closer != nil {
		log.Debug().Msg("Closing transport")
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close transport")
			errs = append(errs, err)
		}
	}

	if s.Redis != nil {
		log.Debug().Msg("Closing redis connection")
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis connection")
			errs = append(errs, err)
		}
	}

	return errs
}
