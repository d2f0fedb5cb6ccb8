package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default endpoint templates. {subject} is replaced by the escaped query
// subject and {key} by the provider access key.
const (
	DefaultAshconURL        = "https://api.ashcon.app/mojang/v2/user/{subject}"
	DefaultMojangProfileURL = "https://api.mojang.com/users/profiles/minecraft/{subject}"
	DefaultMojangSessionURL = "https://sessionserver.mojang.com/session/minecraft/profile/{subject}"
	DefaultIPStackURL       = "http://api.ipstack.com/{subject}?access_key={key}&fields=country_code,country_name,region_code,region_name,city,zip,latitude,longitude"
	DefaultFreeGeoIPURL     = "https://freegeoip.app/json/{subject}"
	DefaultIPAPIURL         = "https://ipapi.co/{subject}/json/"
)

type Config struct {
	Port         string
	SQLitePath   string
	DatabaseName string
	LogLevel     string
	// Admin API credentials
	Username string
	Password string
	JwtKey   []byte
	// OnlineMode is false when players authenticate themselves and network
	// identity checks are meaningless.
	OnlineMode     bool
	HTTPTimeout    time.Duration
	HTTPRetryMax   int
	WriteQueueSize int
	Fetchers       FetcherConfig
	Endpoints      Endpoints
}

// FetcherConfig is the immutable set of source toggles handed to the
// resolver at startup and on every reload.
type FetcherConfig struct {
	LocalLookup bool
	Ashcon      bool
	Mojang      bool
	IPStack     bool
	IPStackKey  string
	FreeGeoIP   bool
	IPAPI       bool
}

// DefaultFetcherConfig enables every source except the keyed IPStack provider
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		LocalLookup: true,
		Ashcon:      true,
		Mojang:      true,
		FreeGeoIP:   true,
		IPAPI:       true,
	}
}

// Endpoints holds URL templates for every external service
type Endpoints struct {
	Ashcon        string
	MojangProfile string
	MojangSession string
	IPStack       string
	FreeGeoIP     string
	IPAPI         string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Ashcon:        DefaultAshconURL,
		MojangProfile: DefaultMojangProfileURL,
		MojangSession: DefaultMojangSessionURL,
		IPStack:       DefaultIPStackURL,
		FreeGeoIP:     DefaultFreeGeoIPURL,
		IPAPI:         DefaultIPAPIURL,
	}
}

// LoadConfig reads .env (if present) and the process environment
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return fromEnv()
}

// Reload re-reads .env, letting its values override the current environment
func Reload() (*Config, error) {
	if err := godotenv.Overload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to re-read .env file: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	databaseName := os.Getenv("DATABASE_NAME")
	if databaseName == "" {
		databaseName = "playerident"
	}

	username := os.Getenv("LOGIN_USERNAME")
	password := os.Getenv("LOGIN_PASSWORD")
	if username == "" || password == "" {
		return nil, fmt.Errorf("LOGIN_USERNAME or LOGIN_PASSWORD is not set in .env file")
	}

	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is not set in .env file")
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		// Default to a data directory in the current directory
		sqlitePath = filepath.Join("data", fmt.Sprintf("%s.db", databaseName))
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3008"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	config := &Config{
		Port:         port,
		SQLitePath:   sqlitePath,
		DatabaseName: databaseName,
		LogLevel:     logLevel,
		Username:     username,
		Password:     password,
		JwtKey:       []byte(jwtSecret),
		Endpoints:    endpointsFromEnv(),
	}

	var err error
	if config.OnlineMode, err = boolEnv("ONLINE_MODE", true); err != nil {
		return nil, err
	}
	if config.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if config.HTTPRetryMax, err = intEnv("HTTP_RETRY_MAX", 1); err != nil {
		return nil, err
	}
	if config.WriteQueueSize, err = intEnv("WRITE_QUEUE_SIZE", 4096); err != nil {
		return nil, err
	}
	if config.Fetchers, err = fetchersFromEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

func fetchersFromEnv() (FetcherConfig, error) {
	fc := DefaultFetcherConfig()
	toggles := []struct {
		key string
		dst *bool
	}{
		{"FETCHER_LOCAL", &fc.LocalLookup},
		{"FETCHER_ASHCON", &fc.Ashcon},
		{"FETCHER_MOJANG", &fc.Mojang},
		{"GEOIP_IPSTACK", &fc.IPStack},
		{"GEOIP_FREEGEOIP", &fc.FreeGeoIP},
		{"GEOIP_IPAPI", &fc.IPAPI},
	}
	for _, toggle := range toggles {
		v, err := boolEnv(toggle.key, *toggle.dst)
		if err != nil {
			return FetcherConfig{}, err
		}
		*toggle.dst = v
	}

	fc.IPStackKey = os.Getenv("GEOIP_IPSTACK_KEY")
	if fc.IPStack && fc.IPStackKey == "" {
		return FetcherConfig{}, fmt.Errorf("GEOIP_IPSTACK is enabled but GEOIP_IPSTACK_KEY is not set")
	}
	return fc, nil
}

func endpointsFromEnv() Endpoints {
	ep := DefaultEndpoints()
	overrides := []struct {
		key string
		dst *string
	}{
		{"ASHCON_URL", &ep.Ashcon},
		{"MOJANG_PROFILE_URL", &ep.MojangProfile},
		{"MOJANG_SESSION_URL", &ep.MojangSession},
		{"IPSTACK_URL", &ep.IPStack},
		{"FREEGEOIP_URL", &ep.FreeGeoIP},
		{"IPAPI_URL", &ep.IPAPI},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
	return ep
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return b, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return d, nil
}
