package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/SUIXIN531/Monitor/pkg/analysis"
	"github.com/SUIXIN531/Monitor/pkg/binance"
	"github.com/SUIXIN531/Monitor/pkg/detector"
	"github.com/SUIXIN531/Monitor/pkg/notify"
	"github.com/SUIXIN531/Monitor/pkg/secrets"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Coins    CoinsConfig    `mapstructure:"coins"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type BinanceConfig struct {
	SpotWsURL    string  `mapstructure:"spot_ws_url"`
	USDMWsURL    string  `mapstructure:"usdm_ws_url"`
	CoinMWsURL   string  `mapstructure:"coinm_ws_url"`
	MarginAPIURL string  `mapstructure:"margin_api_url"`
	Quote        string  `mapstructure:"quote"`
	BorrowRPS    float64 `mapstructure:"borrow_rps"`
}

type StreamConfig struct {
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	ReleaseDelay     time.Duration `mapstructure:"release_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	LoopBuffer       int           `mapstructure:"loop_buffer"`
	// ReachabilityHost is dialled when a feed errors to tell a feed failure
	// from a lost network. Empty disables the check.
	ReachabilityHost string `mapstructure:"reachability_host"`
}

type CoinsConfig struct {
	Tracked   []string `mapstructure:"tracked"`
	Watchlist []string `mapstructure:"watchlist"`
}

type AlertsConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Backend             string        `mapstructure:"backend"`
	SpreadThreshold     float64       `mapstructure:"spread_threshold"`
	VolatilityThreshold float64       `mapstructure:"volatility_threshold"`
	VolatilityWindow    int           `mapstructure:"volatility_window"`
	FlagDuration        time.Duration `mapstructure:"flag_duration"`
	ScheduleLead        time.Duration `mapstructure:"schedule_lead"`
	AppTitle            string        `mapstructure:"app_title"`
	IconURL             string        `mapstructure:"icon_url"`
}

type TelegramConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type AnalysisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIURL  string        `mapstructure:"api_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
}

type StorageConfig struct {
	Path          string `mapstructure:"path"`
	JournalBuffer int    `mapstructure:"journal_buffer"`
	MaxAlerts     int    `mapstructure:"max_alerts"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
	MaxAge int    `mapstructure:"max_age"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

// SecretSource resolves secret values by name.
type SecretSource interface {
	GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/spread-monitor")
	}

	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.read_timeout", 15*time.Second)

	v.SetDefault("binance.spot_ws_url", binance.DefaultSpotWsURL)
	v.SetDefault("binance.usdm_ws_url", binance.DefaultUSDMWsURL)
	v.SetDefault("binance.coinm_ws_url", binance.DefaultCoinMWsURL)
	v.SetDefault("binance.margin_api_url", binance.DefaultMarginAPIURL)
	v.SetDefault("binance.quote", binance.DefaultQuote)
	v.SetDefault("binance.borrow_rps", 2.0)

	v.SetDefault("stream.reconnect_delay", 3*time.Second)
	v.SetDefault("stream.release_delay", 200*time.Millisecond)
	v.SetDefault("stream.handshake_timeout", 10*time.Second)
	v.SetDefault("stream.ping_interval", 30*time.Second)
	v.SetDefault("stream.read_timeout", 60*time.Second)
	v.SetDefault("stream.loop_buffer", 1024)
	v.SetDefault("stream.reachability_host", "stream.binance.com:9443")

	v.SetDefault("coins.tracked", []string{"BTC"})
	v.SetDefault("coins.watchlist", []string{"BTC", "ETH", "SOL", "BNB"})

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.backend", string(notify.BackendImmediate))
	v.SetDefault("alerts.spread_threshold", 1.0)
	v.SetDefault("alerts.volatility_threshold", 2.0)
	v.SetDefault("alerts.volatility_window", 5)
	v.SetDefault("alerts.flag_duration", notify.DefaultFlagDuration)
	v.SetDefault("alerts.schedule_lead", 100*time.Millisecond)
	v.SetDefault("alerts.app_title", "Spread Monitor")
	v.SetDefault("alerts.icon_url", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", 2*time.Second)

	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.api_url", analysis.DefaultAPIURL)
	v.SetDefault("analysis.model", analysis.DefaultModel)
	v.SetDefault("analysis.timeout", 30*time.Second)
	v.SetDefault("analysis.rps", 1.0)

	v.SetDefault("storage.path", "./data/monitor.db")
	v.SetDefault("storage.journal_buffer", 256)
	v.SetDefault("storage.max_alerts", 10000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_age", 7)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.telegram_bot_token", secretNames.TelegramBotToken)
	v.SetDefault("gcp.secret_names.telegram_chat_id", secretNames.TelegramChatID)
	v.SetDefault("gcp.secret_names.gemini_api_key", secretNames.GeminiAPIKey)
	v.SetDefault("gcp.secret_names.jwt_secret", secretNames.JWTSecret)
}

func overrideFromEnv(config *Config) {
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		config.Telegram.BotToken = token
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		config.Telegram.ChatID = chatID
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Analysis.APIKey = apiKey
	}
	if secret := os.Getenv("MONITOR_JWT_SECRET"); secret != "" {
		config.Server.JWTSecret = secret
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && config.GCP.CredentialsFile == "" {
		config.GCP.CredentialsFile = creds
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	applySecrets(ctx, config, secretManager)
	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// applySecrets fills credentials that are not already set.
func applySecrets(ctx context.Context, config *Config, src SecretSource) {
	names := config.GCP.SecretNames
	if config.Telegram.BotToken == "" {
		config.Telegram.BotToken = src.GetSecretWithDefault(ctx, names.TelegramBotToken, "")
	}
	if config.Telegram.ChatID == "" {
		config.Telegram.ChatID = src.GetSecretWithDefault(ctx, names.TelegramChatID, "")
	}
	if config.Analysis.APIKey == "" {
		config.Analysis.APIKey = src.GetSecretWithDefault(ctx, names.GeminiAPIKey, "")
	}
	if config.Server.JWTSecret == "" {
		config.Server.JWTSecret = src.GetSecretWithDefault(ctx, names.JWTSecret, "")
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Binance.SpotWsURL == "" || c.Binance.USDMWsURL == "" || c.Binance.CoinMWsURL == "" {
		return fmt.Errorf("binance websocket urls are required")
	}
	if c.Binance.Quote == "" {
		return fmt.Errorf("binance.quote is required")
	}

	if c.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be positive")
	}
	if c.Stream.ReleaseDelay < 0 {
		return fmt.Errorf("stream.release_delay must not be negative")
	}

	if c.Alerts.SpreadThreshold <= 0 {
		return fmt.Errorf("alerts.spread_threshold must be positive")
	}
	if c.Alerts.VolatilityThreshold <= 0 {
		return fmt.Errorf("alerts.volatility_threshold must be positive")
	}
	if !validWindow(c.Alerts.VolatilityWindow) {
		return fmt.Errorf("alerts.volatility_window must be one of %v", detector.ValidWindows)
	}
	if _, err := notify.ParseBackend(c.Alerts.Backend); err != nil {
		return fmt.Errorf("alerts.backend: %w", err)
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Analysis.Enabled && c.Analysis.APIKey == "" {
		return fmt.Errorf("analysis.api_key is required when analysis is enabled")
	}
	return nil
}

func validWindow(minutes int) bool {
	for _, w := range detector.ValidWindows {
		if w == minutes {
			return true
		}
	}
	return false
}
