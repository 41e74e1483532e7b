package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Telegram Telegram `mapstructure:"telegram"`
	Trading  Trading  `mapstructure:"trading"`
	Signals  Signals  `mapstructure:"signals"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance API.
// Per-user API keys live in the account profiles, not here.
type Binance struct {
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Telegram holds the configuration for the chat front end.
type Telegram struct {
	Token string `mapstructure:"token"`
}

// Trading holds the defaults applied to newly created account profiles.
type Trading struct {
	QuoteAsset           string  `mapstructure:"quote_asset"`
	LimitDailyPercent    float64 `mapstructure:"limit_daily_percent"`
	LimitWeeklyPercent   float64 `mapstructure:"limit_weekly_percent"`
	LimitMaxTradesPerDay int     `mapstructure:"limit_max_trades_per_day"`
}

// Signals holds the configuration for the background signal poller.
type Signals struct {
	Symbols     []string `mapstructure:"symbols"`
	Interval    string   `mapstructure:"interval"`
	CandleLimit int      `mapstructure:"candle_limit"`
	PollSeconds int      `mapstructure:"poll_seconds"`
}

// Server holds the configuration for the status HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("binance.testnet", true)
	viper.SetDefault("trading.quote_asset", "USDT")
	viper.SetDefault("trading.limit_daily_percent", 5)
	viper.SetDefault("trading.limit_weekly_percent", 15)
	viper.SetDefault("trading.limit_max_trades_per_day", 20)
	viper.SetDefault("signals.symbols", []string{"BTCUSDT", "ETHUSDT"})
	viper.SetDefault("signals.interval", "1h")
	viper.SetDefault("signals.candle_limit", 100)
	viper.SetDefault("signals.poll_seconds", 300)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "bot.db")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	// A missing config file is fine, defaults and env cover everything
	// except the telegram token.
	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	return
}
