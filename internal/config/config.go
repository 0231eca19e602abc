/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the order-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	OrderEventExchange         string `mapstructure:"ORDER_EVENT_EXCHANGE"`
	GatewayAPIBaseURL          string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayAPIKey              string `mapstructure:"GATEWAY_API_KEY"`
	GatewayWebhookSecret       string `mapstructure:"GATEWAY_WEBHOOK_SECRET"`
	WebhookToleranceSeconds    int    `mapstructure:"WEBHOOK_TOLERANCE_SECONDS"`
	AdminJWTSecret             string `mapstructure:"ADMIN_JWT_SECRET"`
	CatalogServiceURL          string `mapstructure:"CATALOG_SERVICE_URL"`
	CatalogInternalAPIKey      string `mapstructure:"CATALOG_INTERNAL_API_KEY"`
	MaxDownloads               int    `mapstructure:"MAX_DOWNLOADS"`
	DownloadLinkTTLHours       int    `mapstructure:"DOWNLOAD_LINK_TTL_HOURS"`
	AssetBaseURL               string `mapstructure:"ASSET_BASE_URL"`
	CheckoutSuccessURL         string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL          string `mapstructure:"CHECKOUT_CANCEL_URL"`
	RefundTimeoutSeconds       int    `mapstructure:"REFUND_TIMEOUT_SECONDS"`
	DownloadRateLimitPerMinute int    `mapstructure:"DOWNLOAD_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ORDER_EVENT_EXCHANGE", "order_events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "orders:rate_limit")
	viper.SetDefault("WEBHOOK_TOLERANCE_SECONDS", 300)
	viper.SetDefault("MAX_DOWNLOADS", 5)
	viper.SetDefault("DOWNLOAD_LINK_TTL_HOURS", 720)
	viper.SetDefault("REFUND_TIMEOUT_SECONDS", 8)
	viper.SetDefault("DOWNLOAD_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ORDER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ORDER_EVENT_EXCHANGE")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("GATEWAY_WEBHOOK_SECRET", "GATEWAY_WEBHOOK_SECRET", "WEBHOOK_SIGNING_SECRET")
	_ = viper.BindEnv("WEBHOOK_TOLERANCE_SECONDS")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("CATALOG_SERVICE_URL")
	_ = viper.BindEnv("CATALOG_INTERNAL_API_KEY")
	_ = viper.BindEnv("MAX_DOWNLOADS")
	_ = viper.BindEnv("DOWNLOAD_LINK_TTL_HOURS")
	_ = viper.BindEnv("ASSET_BASE_URL")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("REFUND_TIMEOUT_SECONDS")
	_ = viper.BindEnv("DOWNLOAD_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "orders:rate_limit"
	}
	if strings.TrimSpace(config.GatewayWebhookSecret) == "" {
		config.GatewayWebhookSecret = strings.TrimSpace(os.Getenv("WEBHOOK_SIGNING_SECRET"))
	}

	if config.WebhookToleranceSeconds <= 0 {
		config.WebhookToleranceSeconds = 300
	}
	if config.MaxDownloads <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive MAX_DOWNLOADS; using default\" value=%d", config.MaxDownloads)
		config.MaxDownloads = 5
	}
	if config.DownloadLinkTTLHours <= 0 {
		config.DownloadLinkTTLHours = 720
	}
	if config.RefundTimeoutSeconds <= 0 {
		config.RefundTimeoutSeconds = 8
	}
	if config.DownloadRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative download rate limit; disabling limiter\" value=%d", config.DownloadRateLimitPerMinute)
		config.DownloadRateLimitPerMinute = 0
	}

	return
}
