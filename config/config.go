/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"

	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"CHECKOUT_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"CHECKOUT_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CHECKOUT_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"CHECKOUT_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"CHECKOUT_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"CHECKOUT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Driver          string        `json:"driver" envconfig:"CHECKOUT_DATA_SOURCE_DRIVER"`
	Dns             string        `json:"dns" envconfig:"CHECKOUT_DATA_SOURCE_DNS"`
	MaxOpenConns    int           `json:"max_open_conns" envconfig:"CHECKOUT_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" envconfig:"CHECKOUT_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" envconfig:"CHECKOUT_DATA_SOURCE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" envconfig:"CHECKOUT_DATA_SOURCE_CONN_MAX_IDLE_TIME"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"CHECKOUT_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"CHECKOUT_REDIS_SKIP_TLS_VERIFY"`
	KeyPrefix     string `json:"key_prefix" envconfig:"CHECKOUT_REDIS_KEY_PREFIX"`
}

// GatewayConfig points at the hosted checkout provider.
type GatewayConfig struct {
	BaseURL     string        `json:"base_url" envconfig:"CHECKOUT_GATEWAY_BASE_URL"`
	APIKey      string        `json:"api_key" envconfig:"CHECKOUT_GATEWAY_API_KEY"`
	CallbackURL string        `json:"callback_url" envconfig:"CHECKOUT_GATEWAY_CALLBACK_URL"`
	ReturnURL   string        `json:"return_url" envconfig:"CHECKOUT_GATEWAY_RETURN_URL"`
	Currency    string        `json:"currency" envconfig:"CHECKOUT_GATEWAY_CURRENCY"`
	Timeout     time.Duration `json:"timeout" envconfig:"CHECKOUT_GATEWAY_TIMEOUT"`
	RetryDelay  time.Duration `json:"retry_delay" envconfig:"CHECKOUT_GATEWAY_RETRY_DELAY"`
	MappingFile string        `json:"mapping_file" envconfig:"CHECKOUT_GATEWAY_MAPPING_FILE"`
}

// SignalsConfig tunes the three outcome sources and the arbiter.
type SignalsConfig struct {
	PollInterval    time.Duration `json:"poll_interval" envconfig:"CHECKOUT_SIGNALS_POLL_INTERVAL"`
	PollCeiling     time.Duration `json:"poll_ceiling" envconfig:"CHECKOUT_SIGNALS_POLL_CEILING"`
	SessionTimeout  time.Duration `json:"session_timeout" envconfig:"CHECKOUT_SIGNALS_SESSION_TIMEOUT"`
	GraceWindow     time.Duration `json:"grace_window" envconfig:"CHECKOUT_SIGNALS_GRACE_WINDOW"`
	TrustOrder      []string      `json:"trust_order" envconfig:"CHECKOUT_SIGNALS_TRUST_ORDER"`
	DeepLinkScheme  string        `json:"deep_link_scheme" envconfig:"CHECKOUT_SIGNALS_DEEP_LINK_SCHEME"`
	SuccessPatterns []string      `json:"success_patterns" envconfig:"CHECKOUT_SIGNALS_SUCCESS_PATTERNS"`
	FailurePatterns []string      `json:"failure_patterns" envconfig:"CHECKOUT_SIGNALS_FAILURE_PATTERNS"`
	CancelPatterns  []string      `json:"cancel_patterns" envconfig:"CHECKOUT_SIGNALS_CANCEL_PATTERNS"`
}

// ActivationConfig points at the account registration service.
type ActivationConfig struct {
	BaseURL        string        `json:"base_url" envconfig:"CHECKOUT_ACTIVATION_BASE_URL"`
	Timeout        time.Duration `json:"timeout" envconfig:"CHECKOUT_ACTIVATION_TIMEOUT"`
	MaxAttempts    int           `json:"max_attempts" envconfig:"CHECKOUT_ACTIVATION_MAX_ATTEMPTS"`
	InitialBackoff time.Duration `json:"initial_backoff" envconfig:"CHECKOUT_ACTIVATION_INITIAL_BACKOFF"`
	LockTTL        time.Duration `json:"lock_ttl" envconfig:"CHECKOUT_ACTIVATION_LOCK_TTL"`
	SealingKey     string        `json:"sealing_key" envconfig:"CHECKOUT_ACTIVATION_SEALING_KEY"`
}

// CatalogConfig points at the plan catalog service.
type CatalogConfig struct {
	BaseURL  string        `json:"base_url" envconfig:"CHECKOUT_CATALOG_BASE_URL"`
	CacheTTL time.Duration `json:"cache_ttl" envconfig:"CHECKOUT_CATALOG_CACHE_TTL"`
}

type QueueConfig struct {
	WebhookQueue   string        `json:"webhook_queue" envconfig:"CHECKOUT_QUEUE_WEBHOOK"`
	SweepQueue     string        `json:"sweep_queue" envconfig:"CHECKOUT_QUEUE_SWEEP"`
	SweepInterval  string        `json:"sweep_interval" envconfig:"CHECKOUT_QUEUE_SWEEP_INTERVAL"`
	Retention      time.Duration `json:"retention" envconfig:"CHECKOUT_QUEUE_RETENTION"`
	MonitoringPort string        `json:"monitoring_port" envconfig:"CHECKOUT_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CHECKOUT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CHECKOUT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CHECKOUT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"CHECKOUT_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"CHECKOUT_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"CHECKOUT_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"CHECKOUT_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Gateway         GatewayConfig    `json:"gateway"`
	Signals         SignalsConfig    `json:"signals"`
	Activation      ActivationConfig `json:"activation"`
	Catalog         CatalogConfig    `json:"catalog"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("checkout", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called checkout.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Checkout Orchestrator"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.DataSource.Driver = strings.ToLower(strings.TrimSpace(cnf.DataSource.Driver))
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Gateway.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Gateway.BaseURL), "/")
	cnf.Activation.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Activation.BaseURL), "/")
	cnf.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Catalog.BaseURL), "/")

	if cnf.DataSource.Driver == "" {
		cnf.DataSource.Driver = DriverRedis
	}
	switch cnf.DataSource.Driver {
	case DriverRedis:
		if cnf.Redis.Dns == "" {
			log.Println("Error: Redis DNS is empty. It's a required field.")
			return errors.New("redis DNS is required")
		}
	case DriverPostgres:
		if cnf.DataSource.Dns == "" {
			log.Println("Error: Data source DNS is empty. It's a required field.")
			return errors.New("data source DNS is required")
		}
	case DriverMemory:
		log.Println("Warning: memory data source selected. Sessions will not survive a restart.")
	default:
		return fmt.Errorf("unsupported data source driver %q", cnf.DataSource.Driver)
	}

	if cnf.Gateway.BaseURL == "" {
		log.Println("Error: Gateway base URL is empty. It's a required field.")
		return errors.New("gateway base URL is required")
	}
	if cnf.Activation.BaseURL == "" {
		log.Println("Error: Activation base URL is empty. It's a required field.")
		return errors.New("activation base URL is required")
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}
	if cnf.Redis.KeyPrefix == "" {
		cnf.Redis.KeyPrefix = "checkout"
	}
	if cnf.DataSource.MaxOpenConns == 0 {
		cnf.DataSource.MaxOpenConns = 25
	}
	if cnf.DataSource.MaxIdleConns == 0 {
		cnf.DataSource.MaxIdleConns = 10
	}
	if cnf.DataSource.ConnMaxLifetime == 0 {
		cnf.DataSource.ConnMaxLifetime = 30 * time.Minute
	}
	if cnf.DataSource.ConnMaxIdleTime == 0 {
		cnf.DataSource.ConnMaxIdleTime = 5 * time.Minute
	}

	cnf.setGatewayDefaults()
	cnf.setActivationDefaults()
	if err := cnf.setSignalDefaults(); err != nil {
		return err
	}
	cnf.setQueueDefaults()

	if cnf.Catalog.CacheTTL == 0 {
		cnf.Catalog.CacheTTL = 10 * time.Minute
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setGatewayDefaults() {
	if cnf.Gateway.Timeout == 0 {
		cnf.Gateway.Timeout = 15 * time.Second
	}
	if cnf.Gateway.RetryDelay == 0 {
		cnf.Gateway.RetryDelay = 500 * time.Millisecond
	}
	if cnf.Gateway.Currency == "" {
		cnf.Gateway.Currency = "ETB"
	}
}

func (cnf *Configuration) setActivationDefaults() {
	if cnf.Activation.Timeout == 0 {
		cnf.Activation.Timeout = 15 * time.Second
	}
	if cnf.Activation.MaxAttempts <= 0 {
		cnf.Activation.MaxAttempts = 3
	}
	if cnf.Activation.InitialBackoff == 0 {
		cnf.Activation.InitialBackoff = time.Second
	}
	if cnf.Activation.LockTTL == 0 {
		cnf.Activation.LockTTL = time.Minute
	}
}

func (cnf *Configuration) setSignalDefaults() error {
	s := &cnf.Signals
	if s.PollInterval == 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.PollCeiling == 0 {
		s.PollCeiling = 5 * time.Minute
	}
	if s.SessionTimeout == 0 {
		s.SessionTimeout = 5 * time.Minute
	}
	if s.GraceWindow == 0 {
		s.GraceWindow = 2 * time.Second
	}
	if s.DeepLinkScheme == "" {
		s.DeepLinkScheme = "app"
	}
	if len(s.TrustOrder) == 0 {
		s.TrustOrder = []string{"DEEP_LINK", "POLLER", "REDIRECT"}
	}
	if len(s.SuccessPatterns) == 0 {
		s.SuccessPatterns = []string{"payment-success", "completed"}
	}
	if len(s.FailurePatterns) == 0 {
		s.FailurePatterns = []string{"payment-failed", "failed", "/error"}
	}
	if len(s.CancelPatterns) == 0 {
		s.CancelPatterns = []string{"cancelled", "canceled"}
	}

	seen := make(map[string]bool, len(s.TrustOrder))
	for i, name := range s.TrustOrder {
		name = strings.ToUpper(strings.TrimSpace(name))
		switch name {
		case "DEEP_LINK", "POLLER", "REDIRECT":
		default:
			return fmt.Errorf("invalid trust order entry %q", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate trust order entry %q", name)
		}
		seen[name] = true
		s.TrustOrder[i] = name
	}
	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "checkout_webhooks"
	}
	if cnf.Queue.SweepQueue == "" {
		cnf.Queue.SweepQueue = "checkout_sweep"
	}
	if cnf.Queue.SweepInterval == "" {
		cnf.Queue.SweepInterval = "@every 15m"
	}
	if cnf.Queue.Retention == 0 {
		cnf.Queue.Retention = 72 * time.Hour
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5006"
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
