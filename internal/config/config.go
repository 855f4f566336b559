package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ClusterConfigPath points at the clusters.yml registry file. Empty means
	// the default search paths are used.
	ClusterConfigPath string

	Order     OrderConfig
	VNPay     VNPayConfig
	SMTP      SMTPConfig
	Sweeper   SweeperConfig
	Bootstrap BootstrapConfig
}

type OrderConfig struct {
	// AutoCompleteZeroPriceOrders moves zero-price orders straight to
	// processing instead of waiting at the payment gate.
	AutoCompleteZeroPriceOrders bool
	DefaultCurrency             string
	ProvisionTimeoutSeconds     int
}

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

type BootstrapConfig struct {
	// EnsureDefaults seeds the admin account and a starter catalog on an
	// empty database.
	EnsureDefaults bool
	AdminEmail     string
	AdminPassword  string
}

type SweeperConfig struct {
	RunIntervalSeconds         int
	BatchSize                  int
	UnresolvedThresholdSeconds int
	FailAfterHours             int

	// EnabledJobs is a comma separated allowlist; empty runs every sweep.
	EnabledJobs string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "nebula"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "nebula"),
		DBUser:            getenv("DATABASE_USER", "nebula"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		ClusterConfigPath: getenv("CLUSTER_CONFIG_PATH", ""),

		Order: OrderConfig{
			AutoCompleteZeroPriceOrders: getenvBool("ORDER_AUTO_COMPLETE_ZERO_PRICE", false),
			DefaultCurrency:             getenv("ORDER_DEFAULT_CURRENCY", "VND"),
			ProvisionTimeoutSeconds:     getenvInt("ORDER_PROVISION_TIMEOUT_SECONDS", 120),
		},
		VNPay: VNPayConfig{
			TmnCode:    strings.TrimSpace(getenv("VNPAY_TMN_CODE", "")),
			HashSecret: strings.TrimSpace(getenv("VNPAY_HASH_SECRET", "")),
			PayURL:     getenv("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			ReturnURL:  getenv("VNPAY_RETURN_URL", "http://localhost:8080/v1/payment/vnpay/return"),
		},
		Bootstrap: BootstrapConfig{
			EnsureDefaults: getenvBool("BOOTSTRAP_ENSURE_DEFAULTS", true),
			AdminEmail:     getenv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword:  getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		Sweeper: SweeperConfig{
			RunIntervalSeconds:         getenvInt("SWEEPER_RUN_INTERVAL_SECONDS", 60),
			BatchSize:                  getenvInt("SWEEPER_BATCH_SIZE", 50),
			UnresolvedThresholdSeconds: getenvInt("SWEEPER_UNRESOLVED_THRESHOLD_SECONDS", 300),
			FailAfterHours:             getenvInt("SWEEPER_FAIL_AFTER_HOURS", 24),
			EnabledJobs:                getenv("SWEEPER_ENABLED_JOBS", ""),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "no-reply@nebula.local"),
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
