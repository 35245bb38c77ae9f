package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/proclub/commerce/internal/ecpay"
)

// Config holds the complete application configuration, loadable from
// environment variables (CLUB_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CLUB_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWTSecret   string `usage:"HMAC secret for bearer token verification (CLUB_JWT_SECRET)" flag:"jwt-secret"`
	ECPay       ECPayConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// ECPayConfig holds the payment gateway credentials and URLs. The defaults
// point at the gateway's public staging environment and its well-known test
// credentials.
type ECPayConfig struct {
	MerchantID    string `default:"2000132" usage:"ECPay merchant ID" flag:"ecpay-merchant-id"`
	HashKey       string `default:"5294y06JbISpM5x9" usage:"ECPay hash key" flag:"ecpay-hash-key"`
	HashIV        string `default:"v77hoKGq4kWxNNIS" usage:"ECPay hash IV" flag:"ecpay-hash-iv"`
	Endpoint      string `default:"https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5" usage:"ECPay checkout endpoint" flag:"ecpay-endpoint"`
	TradeNoPrefix string `default:"PC" usage:"Merchant trade number prefix" flag:"ecpay-trade-prefix"`
	ReturnBaseURL string `default:"http://localhost:8080/api/v1" usage:"Public API base URL for gateway callbacks" flag:"ecpay-return-base"`
	ClientBaseURL string `default:"http://localhost:3000" usage:"Storefront base URL for customer redirects" flag:"ecpay-client-base"`
}

// Gateway returns the gateway configuration in the form the payment service
// consumes.
func (c ECPayConfig) Gateway() ecpay.Config {
	return ecpay.Config{
		MerchantID:    c.MerchantID,
		HashKey:       c.HashKey,
		HashIV:        c.HashIV,
		Endpoint:      c.Endpoint,
		TradeNoPrefix: c.TradeNoPrefix,
		ReturnBaseURL: c.ReturnBaseURL,
		ClientBaseURL: c.ClientBaseURL,
	}
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CLUB",
		Files:     []string{"config.yaml", "/etc/club/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CLUB_DATABASE_URL or DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required: set CLUB_JWT_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CLUB_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
