package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"paymebridge/payme"
)

// Duration wraps time.Duration so both YAML and TOML files can use "5s"
// style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText is used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the runtime configuration of the bridge.
type Config struct {
	Service         string           `yaml:"service" toml:"service"`
	Env             string           `yaml:"env" toml:"env"`
	Listen          string           `yaml:"listen" toml:"listen"`
	MerchantID      string           `yaml:"merchant_id" toml:"merchant_id"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	Payme           PaymeConfig      `yaml:"payme" toml:"payme"`
	Store           StoreConfig      `yaml:"store" toml:"store"`
	Publisher       PublisherConfig  `yaml:"publisher" toml:"publisher"`
	Orders          OrdersConfig     `yaml:"orders" toml:"orders"`
	Admin           AdminConfig      `yaml:"admin" toml:"admin"`
	RateLimits      map[string]Limit `yaml:"rate_limits" toml:"rate_limits"`
	CORSOrigins     []string         `yaml:"cors_origins" toml:"cors_origins"`
	Logging         LoggingConfig    `yaml:"logging" toml:"logging"`
	Telemetry       TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
}

// PaymeConfig holds the provider credentials and business limits.
type PaymeConfig struct {
	Key           string        `yaml:"key" toml:"key"`
	TestKey       string        `yaml:"test_key" toml:"test_key"`
	TestMode      bool          `yaml:"test_mode" toml:"test_mode"`
	DebugAllowAny bool          `yaml:"debug_allow_any" toml:"debug_allow_any"`
	MinAmount     int64         `yaml:"min_amount" toml:"min_amount"`
	Currency      string        `yaml:"currency" toml:"currency"`
	Receipt       ReceiptConfig `yaml:"receipt" toml:"receipt"`
}

type ReceiptConfig struct {
	Title       string `yaml:"title" toml:"title"`
	Code        string `yaml:"code" toml:"code"`
	PackageCode string `yaml:"package_code" toml:"package_code"`
	// VATPercent is a pointer so an explicit 0 survives defaulting.
	VATPercent *int `yaml:"vat_percent" toml:"vat_percent"`
}

// Template converts the configured fiscal line for the state machine.
func (r ReceiptConfig) Template() payme.ReceiptTemplate {
	tmpl := payme.ReceiptTemplate{Title: r.Title, Code: r.Code, PackageCode: r.PackageCode}
	if r.VATPercent != nil {
		tmpl.VATPercent = *r.VATPercent
	}
	return tmpl
}

type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	// Audit records every webhook exchange; sqlite only.
	Audit bool `yaml:"audit" toml:"audit"`
}

type PublisherConfig struct {
	Driver         string     `yaml:"driver" toml:"driver"`
	TopicPrefix    string     `yaml:"topic_prefix" toml:"topic_prefix"`
	QueueCapacity  int        `yaml:"queue_capacity" toml:"queue_capacity"`
	PublishTimeout Duration   `yaml:"publish_timeout" toml:"publish_timeout"`
	MQTT           MQTTConfig `yaml:"mqtt" toml:"mqtt"`
	AMQP           AMQPConfig `yaml:"amqp" toml:"amqp"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" toml:"broker"`
	Port     int    `yaml:"port" toml:"port"`
	Protocol string `yaml:"protocol" toml:"protocol"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	QoS      int    `yaml:"qos" toml:"qos"`
	// SubscribeControl logs messages on the control/ and config/ topics.
	SubscribeControl bool `yaml:"subscribe_control" toml:"subscribe_control"`
}

type AMQPConfig struct {
	URL            string   `yaml:"url" toml:"url"`
	Exchange       string   `yaml:"exchange" toml:"exchange"`
	ConfirmTimeout Duration `yaml:"confirm_timeout" toml:"confirm_timeout"`
}

type OrdersConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	Driver       string `yaml:"driver" toml:"driver"`
	DSN          string `yaml:"dsn" toml:"dsn"`
	CheckoutBase string `yaml:"checkout_base" toml:"checkout_base"`
	AccountField string `yaml:"account_field" toml:"account_field"`
}

type AdminConfig struct {
	JWTSecret      string `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer         string `yaml:"issuer" toml:"issuer"`
	Audience       string `yaml:"audience" toml:"audience"`
	DebugEndpoints bool   `yaml:"debug_endpoints" toml:"debug_endpoints"`
}

type Limit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
	Headers  string `yaml:"headers" toml:"headers"`
	Metrics  bool   `yaml:"metrics" toml:"metrics"`
	Traces   bool   `yaml:"traces" toml:"traces"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{Payme: PaymeConfig{TestMode: true}}
	applyDefaults(&cfg)
	return cfg
}

// Load reads path (YAML unless the extension is .toml), applies defaults and
// environment overrides, then validates. An empty path yields defaults plus
// environment.
func Load(path string) (Config, error) {
	cfg := Config{Payme: PaymeConfig{TestMode: true}}
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "paymebridge"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":3002"
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 15 * time.Second
	}
	if cfg.Payme.MinAmount == 0 {
		cfg.Payme.MinAmount = 100
	}
	if cfg.Payme.Currency == "" {
		cfg.Payme.Currency = "UZS"
	}
	receipt := payme.DefaultReceipt()
	if cfg.Payme.Receipt.Title == "" {
		cfg.Payme.Receipt.Title = receipt.Title
	}
	if cfg.Payme.Receipt.Code == "" {
		cfg.Payme.Receipt.Code = receipt.Code
	}
	if cfg.Payme.Receipt.PackageCode == "" {
		cfg.Payme.Receipt.PackageCode = receipt.PackageCode
	}
	if cfg.Payme.Receipt.VATPercent == nil {
		vat := receipt.VATPercent
		cfg.Payme.Receipt.VATPercent = &vat
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "paymebridge.db"
	}
	if cfg.Publisher.Driver == "" {
		cfg.Publisher.Driver = "mqtt"
	}
	if cfg.Publisher.TopicPrefix == "" {
		cfg.Publisher.TopicPrefix = "payments"
	}
	if cfg.Publisher.QueueCapacity == 0 {
		cfg.Publisher.QueueCapacity = 256
	}
	if cfg.Publisher.PublishTimeout.Duration == 0 {
		cfg.Publisher.PublishTimeout.Duration = 5 * time.Second
	}
	if cfg.Publisher.MQTT.Broker == "" {
		cfg.Publisher.MQTT.Broker = "broker.hivemq.com"
	}
	if cfg.Publisher.MQTT.Port == 0 {
		cfg.Publisher.MQTT.Port = 1883
	}
	if cfg.Publisher.MQTT.Protocol == "" {
		cfg.Publisher.MQTT.Protocol = "mqtt"
	}
	if cfg.Publisher.AMQP.Exchange == "" {
		cfg.Publisher.AMQP.Exchange = "payments"
	}
	if cfg.Publisher.AMQP.ConfirmTimeout.Duration == 0 {
		cfg.Publisher.AMQP.ConfirmTimeout.Duration = 5 * time.Second
	}
	if cfg.Orders.Driver == "" {
		cfg.Orders.Driver = "sqlite"
	}
	if cfg.Orders.DSN == "" && cfg.Orders.Driver == "sqlite" {
		cfg.Orders.DSN = "orders.db"
	}
	if cfg.Orders.CheckoutBase == "" {
		cfg.Orders.CheckoutBase = "https://checkout.paycom.uz"
	}
	if cfg.Orders.AccountField == "" {
		cfg.Orders.AccountField = "order_id"
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]Limit{
			"webhook": {RequestsPerMinute: 600, Burst: 60},
			"orders":  {RequestsPerMinute: 60, Burst: 10},
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays the deployment environment variables.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("MERCHANT_ID", &cfg.MerchantID)
	str("PAYME_KEY", &cfg.Payme.Key)
	str("PAYME_TEST_KEY", &cfg.Payme.TestKey)
	str("MQTT_BROKER", &cfg.Publisher.MQTT.Broker)
	str("MQTT_PROTOCOL", &cfg.Publisher.MQTT.Protocol)
	str("PROCESSED_FILE", &cfg.Store.Path)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTEL_EXPORTER_OTLP_HEADERS", &cfg.Telemetry.Headers)

	if v, ok := lookup("TEST_MODE"); ok && strings.TrimSpace(v) != "" {
		cfg.Payme.TestMode = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("DEBUG_ALLOW_ANY"); ok && strings.TrimSpace(v) != "" {
		cfg.Payme.DebugAllowAny = strings.TrimSpace(v) == "1"
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok && strings.TrimSpace(v) != "" {
		insecure, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Telemetry.Insecure = insecure
	}
	ints := []struct {
		key string
		set func(int64)
	}{
		{"MQTT_PORT", func(n int64) { cfg.Publisher.MQTT.Port = int(n) }},
		{"MIN_AMOUNT_UZS", func(n int64) { cfg.Payme.MinAmount = n }},
		{"PORT", func(n int64) { cfg.Listen = ":" + strconv.FormatInt(n, 10) }},
	}
	for _, entry := range ints {
		v, ok := lookup(entry.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
		entry.set(n)
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "leveldb", "sqlite":
	default:
		return fmt.Errorf("store.driver %q must be memory, leveldb or sqlite", c.Store.Driver)
	}
	if c.Store.Audit && c.Store.Driver != "sqlite" {
		return fmt.Errorf("store.audit requires the sqlite driver")
	}
	switch c.Publisher.Driver {
	case "mqtt", "amqp":
		if strings.TrimSpace(c.MerchantID) == "" {
			return fmt.Errorf("merchant_id must be configured for the %s publisher", c.Publisher.Driver)
		}
	case "log":
	default:
		return fmt.Errorf("publisher.driver %q must be mqtt, amqp or log", c.Publisher.Driver)
	}
	if c.Publisher.Driver == "amqp" && strings.TrimSpace(c.Publisher.AMQP.URL) == "" {
		return fmt.Errorf("publisher.amqp.url must be configured for the amqp publisher")
	}
	if c.Publisher.MQTT.QoS < 0 || c.Publisher.MQTT.QoS > 2 {
		return fmt.Errorf("publisher.mqtt.qos must be 0, 1 or 2")
	}
	if c.Publisher.QueueCapacity <= 0 {
		return fmt.Errorf("publisher.queue_capacity must be positive")
	}
	if c.Payme.MinAmount <= 0 {
		return fmt.Errorf("payme.min_amount must be positive")
	}
	if c.Orders.Enabled {
		switch c.Orders.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("orders.driver %q must be sqlite or postgres", c.Orders.Driver)
		}
		if strings.TrimSpace(c.Orders.DSN) == "" {
			return fmt.Errorf("orders.dsn must be configured")
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	return nil
}

// ActiveKey returns the provider key the webhook accepts in the current mode.
func (c Config) ActiveKey() string {
	if c.Payme.TestMode {
		return c.Payme.TestKey
	}
	return c.Payme.Key
}
