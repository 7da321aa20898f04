package config

import (
	"time"

	"github.com/gridswap/go-station-ops/internal/util"
	"github.com/rs/zerolog"
)

// Server holds the full service configuration, assembled from environment
// variables with sane defaults for local development.
type Server struct {
	Echo    EchoServer
	Logger  Logger
	Redis   Redis
	Backend Backend
	Station Station
}

type EchoServer struct {
	ListenAddress string
	HideBanner    bool
}

type Logger struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
}

type Redis struct {
	Address  string
	Password string
	DB       int
	// SubjectPrefix namespaces every pub/sub channel this service touches.
	SubjectPrefix string
}

// Backend configures the HTTP client for the backend of record.
type Backend struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Station configures the workflow engine itself.
type Station struct {
	StationID string
	CompanyID string

	// OperatorID and OperatorName identify the operator this terminal is
	// logged in as; sessions record them as the acting credentials.
	OperatorID   string
	OperatorName string

	// RequireGuarantor inserts the guarantor step into the registration
	// workflow, raising its total steps from 7 to 8.
	RequireGuarantor bool

	SessionTTL         time.Duration
	AutosaveDebounce   time.Duration
	CorrelationTimeout time.Duration
}

// DefaultServiceConfigFromEnv returns the server config as parsed from the
// current environment.
func DefaultServiceConfigFromEnv() Server {
	return Server{
		Echo: EchoServer{
			ListenAddress: util.GetEnv("STATION_ECHO_LISTEN_ADDRESS", ":8080"),
			HideBanner:    util.GetEnvAsBool("STATION_ECHO_HIDE_BANNER", true),
		},
		Logger: Logger{
			Level:              util.LogLevelFromString(util.GetEnv("STATION_LOGGER_LEVEL", "info")),
			PrettyPrintConsole: util.GetEnvAsBool("STATION_LOGGER_PRETTY_PRINT_CONSOLE", false),
		},
		Redis: Redis{
			Address:       util.GetEnv("STATION_REDIS_ADDRESS", "localhost:6379"),
			Password:      util.GetEnv("STATION_REDIS_PASSWORD", ""),
			DB:            util.GetEnvAsInt("STATION_REDIS_DB", 0),
			SubjectPrefix: util.GetEnv("STATION_REDIS_SUBJECT_PREFIX", "station"),
		},
		Backend: Backend{
			BaseURL: util.GetEnv("STATION_BACKEND_BASE_URL", "http://localhost:9090"),
			Token:   util.GetEnv("STATION_BACKEND_TOKEN", ""),
			Timeout: util.GetEnvAsDuration("STATION_BACKEND_TIMEOUT", 15*time.Second),
		},
		Station: Station{
			StationID:          util.GetEnv("STATION_ID", "station-dev"),
			CompanyID:          util.GetEnv("STATION_COMPANY_ID", ""),
			OperatorID:         util.GetEnv("STATION_OPERATOR_ID", ""),
			OperatorName:       util.GetEnv("STATION_OPERATOR_NAME", ""),
			RequireGuarantor:   util.GetEnvAsBool("STATION_REQUIRE_GUARANTOR", false),
			SessionTTL:         util.GetEnvAsDuration("STATION_SESSION_TTL", 24*time.Hour),
			AutosaveDebounce:   util.GetEnvAsDuration("STATION_AUTOSAVE_DEBOUNCE", 500*time.Millisecond),
			CorrelationTimeout: util.GetEnvAsDuration("STATION_CORRELATION_TIMEOUT", 30*time.Second),
		},
	}
}
