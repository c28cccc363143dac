package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Terminal  TerminalConfig
	Directory DirectoryConfig
	Consumer  ConsumerConfig
	Outbox    OutboxConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	VHost           string
	Queue           string
	DeadLetterQueue string
	ConnectAttempts int
	ConnectDelay    time.Duration
	PrefetchCount   int
}

// RedisConfig is optional; an empty URL switches the consumer to in-process
// retry counters and disables the per-customer lock.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type TerminalConfig struct {
	URL     string
	Timeout time.Duration
}

type DirectoryConfig struct {
	AuthURL      string
	APIURL       string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
}

type ConsumerConfig struct {
	MaxDeliveryAttempts int
	RetryDelay          time.Duration
}

type OutboxConfig struct {
	ReplayInterval time.Duration
	BatchSize      int
	MaxAttempts    int
}

// loader collects missing and malformed variables so Load reports them all at once.
type loader struct {
	missing []string
	invalid []string
}

func (l *loader) required(key string) string {
	val := os.Getenv(key)
	if val == "" {
		l.missing = append(l.missing, key)
	}
	return val
}

func (l *loader) optional(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func (l *loader) integer(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		l.invalid = append(l.invalid, key)
		return def
	}
	return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		l.invalid = append(l.invalid, key)
		return def
	}
	return d
}

func (l *loader) err() error {
	if len(l.missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", l.missing)
	}
	if len(l.invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %v", l.invalid)
	}
	return nil
}

func (l *loader) database() DatabaseConfig {
	return DatabaseConfig{
		Host:     l.required("DB_HOST"),
		Port:     l.optional("DB_PORT", "5432"),
		User:     l.required("DB_USER"),
		Password: l.required("DB_PASSWORD"),
		DBName:   l.required("DB_NAME"),
		SSLMode:  l.optional("DB_SSLMODE", "disable"),
	}
}

func (l *loader) rabbitMQ() RabbitMQConfig {
	cfg := RabbitMQConfig{
		URL:             os.Getenv("RABBITMQ_URL"),
		Queue:           l.optional("RABBITMQ_QUEUE", "payment"),
		DeadLetterQueue: l.optional("RABBITMQ_DEAD_LETTER_QUEUE", "payment.dead-letter"),
		ConnectAttempts: l.integer("RABBITMQ_CONNECT_ATTEMPTS", 10),
		ConnectDelay:    l.duration("RABBITMQ_CONNECT_DELAY", 5*time.Second),
		PrefetchCount:   l.integer("RABBITMQ_PREFETCH", 1),
	}
	// Host-based settings are only required when no URL is given.
	if cfg.URL == "" {
		cfg.Host = l.required("RABBITMQ_HOST")
		cfg.User = l.required("RABBITMQ_USER")
		cfg.Password = l.required("RABBITMQ_PASSWORD")
	} else {
		cfg.Host = os.Getenv("RABBITMQ_HOST")
		cfg.User = os.Getenv("RABBITMQ_USER")
		cfg.Password = os.Getenv("RABBITMQ_PASSWORD")
	}
	cfg.Port = l.optional("RABBITMQ_PORT", "5672")
	cfg.VHost = l.optional("RABBITMQ_VHOST", "/")
	return cfg
}

func (l *loader) redis() RedisConfig {
	return RedisConfig{
		URL:     os.Getenv("REDIS_URL"),
		LockTTL: l.duration("REDIS_LOCK_TTL", 30*time.Second),
	}
}

// LoadServer loads the configuration used by the POS API process.
func LoadServer() (*Config, error) {
	_ = godotenv.Load()

	l := &loader{}
	cfg := &Config{
		Server: ServerConfig{
			Port: l.optional("SERVER_PORT", "8000"),
			Host: l.optional("SERVER_HOST", "0.0.0.0"),
		},
		Database: l.database(),
		RabbitMQ: l.rabbitMQ(),
		Terminal: TerminalConfig{
			URL:     l.required("ADYEN_TERMINAL_URL"),
			Timeout: l.duration("TERMINAL_TIMEOUT", 180*time.Second),
		},
		Outbox: OutboxConfig{
			ReplayInterval: l.duration("OUTBOX_REPLAY_INTERVAL", 30*time.Second),
			BatchSize:      l.integer("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:    l.integer("OUTBOX_MAX_ATTEMPTS", 8),
		},
	}

	if err := l.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConsumer loads the configuration used by the loyalty sync worker.
func LoadConsumer() (*Config, error) {
	_ = godotenv.Load()

	l := &loader{}
	cfg := &Config{
		Database: l.database(),
		RabbitMQ: l.rabbitMQ(),
		Redis:    l.redis(),
		Directory: DirectoryConfig{
			AuthURL:      l.required("CL_AUTH_URL"),
			APIURL:       l.required("CL_API_URL"),
			ClientID:     l.required("CL_CLIENT_ID"),
			ClientSecret: l.required("CL_CLIENT_SECRET"),
			Scope:        os.Getenv("CL_SCOPE"),
			Timeout:      l.duration("CL_TIMEOUT", 30*time.Second),
		},
		Consumer: ConsumerConfig{
			MaxDeliveryAttempts: l.integer("MAX_DELIVERY_ATTEMPTS", 5),
			RetryDelay:          l.duration("RETRY_DELAY", 2*time.Second),
		},
	}

	if err := l.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConnectionString returns a key/value DSN for GORM. Values are quoted so
// credentials may contain spaces or quotes.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		dsnValue(c.Host), dsnValue(c.User), dsnValue(c.Password), dsnValue(c.DBName), dsnValue(c.Port), dsnValue(c.SSLMode))
}

func dsnValue(v string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// MigrationURL returns the postgres:// URL expected by golang-migrate
func (c *DatabaseConfig) MigrationURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	vhost := c.VHost
	if vhost == "/" {
		vhost = ""
	}
	u := url.URL{
		Scheme:  "amqp",
		User:    url.UserPassword(c.User, c.Password),
		Host:    net.JoinHostPort(c.Host, c.Port),
		Path:    "/" + vhost,
		RawPath: "/" + url.PathEscape(vhost),
	}
	return u.String()
}
