package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Encryption  EncryptionConfig
	Scheduler   SchedulerConfig
	TLS         TLSConfig
	OpenFinance OpenFinanceConfig
	Certs       CertsConfig
	Firebase    FirebaseConfig
	Telemetry   TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type OpenFinanceConfig struct {
	Enabled          bool
	RedirectURI      string
	RefreshLookahead time.Duration
	SyncInterval     time.Duration
	PageSize         int
	LookbackDays     int
}

// CertsConfig selects the client certificate source for mutual TLS against
// institutions. Sources are tried in order: bucket, keystore, PEM files.
type CertsConfig struct {
	Bucket           string
	CertObject       string
	KeyObject        string
	CAObject         string
	KeystorePath     string
	KeystorePassword string
	CertPath         string
	KeyPath          string
	CAPath           string
}

type FirebaseConfig struct {
	CredentialsFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	// Parse scheduler configuration
	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	schedulerTimes := strings.Split(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"), ",")
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerRunOnStartup := getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false)

	// Parse TLS configuration
	tlsEnabled := getBoolEnv("TLS_ENABLED", false)
	tlsCertPath := getEnv("TLS_CERT_PATH", "")
	tlsKeyPath := getEnv("TLS_KEY_PATH", "")
	tlsRedirectHTTP := getBoolEnv("TLS_REDIRECT_HTTP", false)

	// Parse allowed hosts (comma-separated list)
	allowedHostsStr := getEnv("ALLOWED_HOSTS", "")
	var allowedHosts []string
	if allowedHostsStr != "" {
		for _, host := range strings.Split(allowedHostsStr, ",") {
			host = strings.TrimSpace(host)
			if host != "" {
				allowedHosts = append(allowedHosts, host)
			}
		}
	}

	// Construct the consent callback URL from HOST_URL unless overridden
	hostURL := getEnv("HOST_URL", "")
	redirectURI := getEnv("OPENFINANCE_REDIRECT_URI", "")
	if redirectURI == "" && hostURL != "" {
		redirectURI = fmt.Sprintf("%s/api/openfinance/consents/callback", hostURL)
	}

	refreshLookahead, err := time.ParseDuration(getEnv("OPENFINANCE_REFRESH_LOOKAHEAD", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPENFINANCE_REFRESH_LOOKAHEAD: %w", err)
	}
	syncInterval, err := time.ParseDuration(getEnv("OPENFINANCE_SYNC_INTERVAL", "6h"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPENFINANCE_SYNC_INTERVAL: %w", err)
	}
	pageSize, err := strconv.Atoi(getEnv("OPENFINANCE_PAGE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPENFINANCE_PAGE_SIZE: %w", err)
	}
	lookbackDays, err := strconv.Atoi(getEnv("OPENFINANCE_LOOKBACK_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPENFINANCE_LOOKBACK_DAYS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "finlink"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "finlink"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       schedulerEnabled,
			ScheduleTimes: schedulerTimes,
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  schedulerRunOnStartup,
		},
		TLS: TLSConfig{
			Enabled:      tlsEnabled,
			CertPath:     tlsCertPath,
			KeyPath:      tlsKeyPath,
			RedirectHTTP: tlsRedirectHTTP,
		},
		OpenFinance: OpenFinanceConfig{
			Enabled:          getBoolEnv("OPENFINANCE_ENABLED", true),
			RedirectURI:      redirectURI,
			RefreshLookahead: refreshLookahead,
			SyncInterval:     syncInterval,
			PageSize:         pageSize,
			LookbackDays:     lookbackDays,
		},
		Certs: CertsConfig{
			Bucket:           getEnv("MTLS_CERT_BUCKET", ""),
			CertObject:       getEnv("MTLS_CERT_OBJECT", "client.crt"),
			KeyObject:        getEnv("MTLS_KEY_OBJECT", "client.key"),
			CAObject:         getEnv("MTLS_CA_OBJECT", ""),
			KeystorePath:     getEnv("MTLS_KEYSTORE_PATH", ""),
			KeystorePassword: getEnv("MTLS_KEYSTORE_PASSWORD", ""),
			CertPath:         getEnv("MTLS_CERT_PATH", ""),
			KeyPath:          getEnv("MTLS_KEY_PATH", ""),
			CAPath:           getEnv("MTLS_CA_PATH", ""),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finlink-api"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
			MetricsPort:  getEnv("OTEL_METRICS_PORT", "9090"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
