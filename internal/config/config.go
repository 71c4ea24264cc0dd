// Package config provides configuration structures and loading for the fuel price sync.
package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"

	"github.com/fuelwatch/fpdsync/internal/api/fpdapi"
	"github.com/fuelwatch/fpdsync/internal/database"
)

// Config holds all configuration for the fuel price sync.
type Config struct {
	// FPDAPI settings
	API APIConfig
	// Store settings
	Store StoreConfig
	// Log level (debug, info, warn, error)
	LogLevel string
	// Log format (json, console)
	LogFormat string
	// HTTP server address for the run daemon
	HTTPAddr string
	// Cron expression for the run daemon
	SyncSchedule string
	// Sync once when the daemon starts
	RunOnStart bool
	// Pushgateway URL, empty disables pushing after a one-shot sync
	PushgatewayURL string
}

// APIConfig configures the FPDAPI client.
type APIConfig struct {
	Token          string
	BaseURL        string
	CountryID      int
	GeoRegionLevel int
	GeoRegionID    int
	Timeout        time.Duration
}

// StoreConfig configures the document store.
type StoreConfig struct {
	// Backend is mongo or postgres
	Backend       string
	MongoHost     string
	MongoPort     int
	MongoUser     string
	MongoPassword string
	MongoDB       string
	// CollectionPrefix is prepended to collection and table names
	CollectionPrefix string
	PostgresDSN      string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	region := fpdapi.DefaultRegion()
	return &Config{
		API: APIConfig{
			BaseURL:        fpdapi.DefaultBaseURL,
			CountryID:      region.CountryID,
			GeoRegionLevel: region.GeoRegionLevel,
			GeoRegionID:    region.GeoRegionID,
			Timeout:        fpdapi.DefaultTimeout,
		},
		Store: StoreConfig{
			Backend:          database.BackendMongo,
			MongoHost:        "localhost",
			MongoPort:        27017,
			MongoDB:          "fuel",
			CollectionPrefix: "qld",
		},
		LogLevel:     "info",
		LogFormat:    "json",
		HTTPAddr:     ":8080",
		SyncSchedule: "*/30 * * * *",
		RunOnStart:   true,
	}
}

// Load reads an optional .env file and then applies environment variables.
func Load() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.LoadFromEnv()
	return cfg
}

// LoadFromEnv loads configuration from environment variables.
// Unparsable numeric values keep their previous setting.
func (c *Config) LoadFromEnv() {
	setString(&c.API.Token, "API_TOKEN")
	setString(&c.API.BaseURL, "API_BASE_URL")
	setInt(&c.API.CountryID, "API_COUNTRY_ID")
	setInt(&c.API.GeoRegionLevel, "API_GEO_REGION_LEVEL")
	setInt(&c.API.GeoRegionID, "API_GEO_REGION_ID")
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.API.Timeout = d
		}
	}

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	setString(&c.Store.MongoHost, "MONGO_HOST")
	setInt(&c.Store.MongoPort, "MONGO_PORT")
	setString(&c.Store.MongoUser, "MONGO_USER")
	setString(&c.Store.MongoPassword, "MONGO_PASSWORD")
	setString(&c.Store.MongoDB, "MONGO_DB")
	setString(&c.Store.CollectionPrefix, "MONGO_COLLECTION_PREFIX")
	setString(&c.Store.PostgresDSN, "POSTGRES_DSN")

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.SyncSchedule, "SYNC_SCHEDULE")
	if v := os.Getenv("RUN_ON_START"); v != "" {
		c.RunOnStart = strings.ToLower(v) == "true"
	}
	setString(&c.PushgatewayURL, "PUSHGATEWAY_URL")
}

// Validate checks that everything needed to sync is configured.
func (c *Config) Validate() error {
	if err := c.ValidateAPI(); err != nil {
		return err
	}
	return c.ValidateStore()
}

// ValidateAPI checks the FPDAPI settings. Dry runs need nothing else.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.API.Token) == "" {
		return eris.New("API_TOKEN is required")
	}
	if c.API.Timeout <= 0 {
		return eris.Errorf("fetch timeout must be positive, got %s", c.API.Timeout)
	}
	return nil
}

// ValidateStore checks the settings of the selected store backend.
func (c *Config) ValidateStore() error {
	switch c.Store.Backend {
	case database.BackendMongo:
		if c.Store.MongoHost == "" || c.Store.MongoDB == "" {
			return eris.New("MONGO_HOST and MONGO_DB are required for the mongo backend")
		}
		if c.Store.MongoPort <= 0 || c.Store.MongoPort > 65535 {
			return eris.Errorf("invalid MONGO_PORT %d", c.Store.MongoPort)
		}
	case database.BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return eris.New("POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return eris.Errorf("unknown store backend %q (want %s or %s)",
			c.Store.Backend, database.BackendMongo, database.BackendPostgres)
	}
	return nil
}

// Region returns the FPDAPI region selected by the API settings.
func (c *Config) Region() fpdapi.Region {
	return fpdapi.Region{
		CountryID:      c.API.CountryID,
		GeoRegionLevel: c.API.GeoRegionLevel,
		GeoRegionID:    c.API.GeoRegionID,
	}
}

// ProviderOptions returns the FPDAPI client options.
func (c *Config) ProviderOptions() fpdapi.Options {
	return fpdapi.Options{
		BaseURL: c.API.BaseURL,
		Token:   c.API.Token,
		Region:  c.Region(),
		Timeout: c.API.Timeout,
	}
}

// MongoURI builds the connection URI from the Mongo settings.
// Credentials are escaped and omitted when no user is set.
func (c *Config) MongoURI() string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(c.Store.MongoHost, strconv.Itoa(c.Store.MongoPort)),
		Path:   "/" + c.Store.MongoDB,
	}
	if c.Store.MongoUser != "" {
		u.User = url.UserPassword(c.Store.MongoUser, c.Store.MongoPassword)
	}
	return u.String()
}

// StoreOptions returns the options for database.Open.
func (c *Config) StoreOptions() database.Options {
	return database.Options{
		Backend:          c.Store.Backend,
		MongoURI:         c.MongoURI(),
		MongoDatabase:    c.Store.MongoDB,
		PostgresDSN:      c.Store.PostgresDSN,
		CollectionPrefix: c.Store.CollectionPrefix,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
