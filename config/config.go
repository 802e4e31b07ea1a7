package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	FirebaseDbUrl              string `env:"FIREBASE_DB_URL"`
	FirebaseServiceAccountJSON string `env:"FIREBASE_SERVICE_ACCOUNT_JSON"`
	FirebaseProjectID          string `env:"FIREBASE_PROJECT_ID"`

	// Owner of the plant documents and the plant to control
	UserID  string `env:"PLANT_USER_ID"`
	PlantID string `env:"PLANT_ID"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Device link tuning
	RealtimePollInterval   time.Duration `env:"RTDB_POLL_INTERVAL" envDefault:"5s"`
	RealtimeRequestTimeout time.Duration `env:"RTDB_REQUEST_TIMEOUT" envDefault:"10s"`
	WateringTickInterval   time.Duration `env:"WATERING_TICK_INTERVAL" envDefault:"100ms"`
	DefaultWaterDuration   int           `env:"DEFAULT_WATER_DURATION" envDefault:"10"`
	OfflineAlertAfter      time.Duration `env:"LINK_OFFLINE_AFTER" envDefault:"30s"`

	// Thresholds for plant health metrics
	MoistureWet     float64 `env:"MOISTURE_WET" envDefault:"600"`
	MoistureDry     float64 `env:"MOISTURE_DRY" envDefault:"4095"`
	LowWaterPercent int     `env:"LOW_WATER_PERCENT" envDefault:"20"`
	LowHumidity     float64 `env:"LOW_HUMIDITY" envDefault:"30"`
	HotTemperature  float64 `env:"HOT_TEMPERATURE" envDefault:"31"`
	TemperatureUnit string  `env:"TEMPERATURE_UNIT" envDefault:"C"`

	TelegramBotToken      string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID        string        `env:"TELEGRAM_CHAT_ID"`
	TelegramAlertCooldown time.Duration `env:"TELEGRAM_ALERT_COOLDOWN" envDefault:"15m"`

	MQTTBroker      string `env:"MQTT_BROKER"`
	MQTTUser        string `env:"MQTT_USER"`
	MQTTPass        string `env:"MQTT_PASS"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"plantlink"`

	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"plantlink.watering"`
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	config.TemperatureUnit = strings.ToUpper(strings.TrimSpace(config.TemperatureUnit))
	if config.TemperatureUnit != "C" && config.TemperatureUnit != "F" {
		return nil, fmt.Errorf("unsupported temperature unit %q", config.TemperatureUnit)
	}
	if config.DefaultWaterDuration <= 0 {
		config.DefaultWaterDuration = 10
	}
	if config.MoistureDry <= config.MoistureWet {
		return nil, fmt.Errorf("MOISTURE_DRY (%.0f) must be greater than MOISTURE_WET (%.0f)", config.MoistureDry, config.MoistureWet)
	}

	return config, nil
}

// Validate checks the settings every command needs to reach Firebase.
func (c *Config) Validate() error {
	var errs []error
	if c.FirebaseDbUrl == "" {
		errs = append(errs, errors.New("FIREBASE_DB_URL is required"))
	}
	if c.FirebaseServiceAccountJSON == "" {
		errs = append(errs, errors.New("FIREBASE_SERVICE_ACCOUNT_JSON is required"))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("PLANT_USER_ID is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

func (c *Config) RabbitMQEnabled() bool {
	return c.RabbitMQURL != ""
}

// Redacted returns the config as loggable key/value pairs with secrets masked.
func (c *Config) Redacted() map[string]string {
	return map[string]string{
		"firebase_db_url":          c.FirebaseDbUrl,
		"firebase_service_account": mask(c.FirebaseServiceAccountJSON),
		"firebase_project_id":      c.FirebaseProjectID,
		"user_id":                  c.UserID,
		"plant_id":                 c.PlantID,
		"rtdb_poll_interval":       c.RealtimePollInterval.String(),
		"watering_tick_interval":   c.WateringTickInterval.String(),
		"telegram_bot_token":       mask(c.TelegramBotToken),
		"telegram_chat_id":         c.TelegramChatID,
		"mqtt_broker":              c.MQTTBroker,
		"mqtt_pass":                mask(c.MQTTPass),
		"rabbitmq_url":             mask(c.RabbitMQURL),
		"temperature_unit":         c.TemperatureUnit,
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
