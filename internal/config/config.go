package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is built once at startup and passed by value to constructors.
type Config struct {
	Server   Server   `yaml:"server"`
	MySQL    MySQL    `yaml:"mysql"`
	Redis    Redis    `yaml:"redis"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Gateway  Gateway  `yaml:"gateway"`
	Webhook  Webhook  `yaml:"webhook"`
	Checkout Checkout `yaml:"checkout"`
	Cache    Cache    `yaml:"cache"`
	Cron     Cron     `yaml:"cron"`
	Log      Log      `yaml:"log"`

	// EncryptionKey is the base64 AES-256 key for merchant secrets.
	EncryptionKey string `yaml:"encryption_key"`
	// NodeID seeds the snowflake id generator; unique per replica.
	NodeID int64 `yaml:"node_id"`
}

type Server struct {
	Port            string   `yaml:"port"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// TrustedProxies may set X-Forwarded-For; empty trusts no proxy.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type MySQL struct {
	User            string   `yaml:"user"`
	Password        string   `yaml:"password"`
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	Database        string   `yaml:"database"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

func (m MySQL) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		m.User, m.Password, m.Host, m.Port, m.Database)
}

type Redis struct {
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	PoolSize     int      `yaml:"pool_size"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

type RabbitMQ struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Gateway describes the payment platform's HTTP API.
type Gateway struct {
	BaseURL            string   `yaml:"base_url"`
	CreateOrderPath    string   `yaml:"create_order_path"`
	QueryOrderPath     string   `yaml:"query_order_path"`
	ShipOrderPath      string   `yaml:"ship_order_path"`
	VerifyMerchantPath string   `yaml:"verify_merchant_path"`
	CreateTimeout      Duration `yaml:"create_timeout"`
	QueryTimeout       Duration `yaml:"query_timeout"`
	ShipTimeout        Duration `yaml:"ship_timeout"`
	VerifyTimeout      Duration `yaml:"verify_timeout"`
}

type Webhook struct {
	Keycode string `yaml:"keycode"`
	// AllowedIPs is empty when the allow-list is disabled.
	AllowedIPs []string `yaml:"allowed_ips"`
}

type Checkout struct {
	Window          Duration `yaml:"window"`
	PlatformFeeRate string   `yaml:"platform_fee_rate"`
	PollRatePerSec  float64  `yaml:"poll_rate_per_sec"`
	PollBurst       int      `yaml:"poll_burst"`
}

// FeeRate parses PlatformFeeRate; Validate guarantees it parses.
func (c Checkout) FeeRate() decimal.Decimal {
	return decimal.RequireFromString(c.PlatformFeeRate)
}

type Cache struct {
	EntitlementTTL Duration `yaml:"entitlement_ttl"`
}

type Cron struct {
	SweepSpec    string   `yaml:"sweep_spec"`
	SweepTimeout Duration `yaml:"sweep_timeout"`
	LockTTL      Duration `yaml:"lock_ttl"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Duration reads YAML strings such as "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.MySQL.Host == "" || c.MySQL.Database == "" {
		return fmt.Errorf("mysql.host and mysql.database are required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	rate, err := decimal.NewFromString(c.Checkout.PlatformFeeRate)
	if err != nil {
		return fmt.Errorf("checkout.platform_fee_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("checkout.platform_fee_rate must be in [0, 1)")
	}
	if c.Checkout.Window.Duration <= 0 {
		return fmt.Errorf("checkout.window must be positive")
	}
	if c.Cache.EntitlementTTL.Duration <= 0 {
		return fmt.Errorf("cache.entitlement_ttl must be positive")
	}
	if key, err := base64.StdEncoding.DecodeString(c.EncryptionKey); err != nil || len(key) != 32 {
		return fmt.Errorf("encryption_key must be the base64 encoding of a 32 byte key")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id must be in [0, 1023]")
	}
	return nil
}
