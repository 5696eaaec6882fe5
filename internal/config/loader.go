package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		Server: Server{Port: "8080", ShutdownTimeout: Duration{10 * time.Second}},
		MySQL: MySQL{
			Port:            "3306",
			MaxOpenConns:    200,
			MaxIdleConns:    50,
			ConnMaxLifetime: Duration{5 * time.Minute},
		},
		Redis: Redis{
			Addr:         "localhost:6379",
			PoolSize:     200,
			DialTimeout:  Duration{2 * time.Second},
			ReadTimeout:  Duration{500 * time.Millisecond},
			WriteTimeout: Duration{500 * time.Millisecond},
		},
		RabbitMQ: RabbitMQ{Exchange: "checkout.exchange"},
		Gateway: Gateway{
			CreateTimeout: Duration{15 * time.Second},
			QueryTimeout:  Duration{5 * time.Second},
			ShipTimeout:   Duration{5 * time.Second},
			VerifyTimeout: Duration{10 * time.Second},
		},
		Checkout: Checkout{
			Window:          Duration{30 * time.Minute},
			PlatformFeeRate: "0.025",
			PollRatePerSec:  20,
			PollBurst:       40,
		},
		Cache: Cache{EntitlementTTL: Duration{5 * time.Minute}},
		Cron: Cron{
			SweepSpec:    "0 * * * * *",
			SweepTimeout: Duration{50 * time.Second},
			LockTTL:      Duration{55 * time.Second},
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path (optional when empty), overlays the environment and validates.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	applyEnv(&c, os.LookupEnv)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnv(c *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("PORT", &c.Server.Port)
	str("MYSQL_USER", &c.MySQL.User)
	str("MYSQL_PASSWORD", &c.MySQL.Password)
	str("MYSQL_HOST", &c.MySQL.Host)
	str("MYSQL_PORT", &c.MySQL.Port)
	str("MYSQL_DATABASE", &c.MySQL.Database)
	str("REDIS_PASSWORD", &c.Redis.Password)
	if v, ok := lookup("REDIS_HOST"); ok && v != "" {
		if strings.Contains(v, ":") {
			c.Redis.Addr = v
		} else {
			c.Redis.Addr = v + ":6379"
		}
	}
	str("RABBITMQ_URL", &c.RabbitMQ.URL)
	str("GATEWAY_API_URL", &c.Gateway.BaseURL)
	str("GATEWAY_CREATE_ORDER_PATH", &c.Gateway.CreateOrderPath)
	str("GATEWAY_QUERY_ORDER_PATH", &c.Gateway.QueryOrderPath)
	str("GATEWAY_SHIP_ORDER_PATH", &c.Gateway.ShipOrderPath)
	str("GATEWAY_VERIFY_MERCHANT_PATH", &c.Gateway.VerifyMerchantPath)
	str("WEBHOOK_KEYCODE", &c.Webhook.Keycode)
	str("ENCRYPTION_KEY", &c.EncryptionKey)
	if v, ok := lookup("TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = ParseIPList(v)
	}
	if v, ok := lookup("WEBHOOK_ALLOWED_IPS"); ok {
		c.Webhook.AllowedIPs = ParseIPList(v)
	}
}

// ParseIPList splits a comma-separated address list, dropping blanks.
func ParseIPList(s string) []string {
	var out []string
	for _, ip := range strings.Split(s, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			out = append(out, ip)
		}
	}
	return out
}
