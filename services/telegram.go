package services

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"plantlink/config"
	"plantlink/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramService struct {
	bot            messageSender
	chatID         int64
	cooldown       time.Duration
	lastAlertTimes map[string]time.Time // Track last care alert time per device
	mu             sync.Mutex
	now            func() time.Time
	logger         *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := newTelegramService(bot, chatID, cfg.TelegramAlertCooldown, logger)

	// Test Telegram connection with retry
	if err := testTelegramConnection(bot, logger); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return ts, nil
}

func newTelegramService(bot messageSender, chatID int64, cooldown time.Duration, logger *zap.Logger) *TelegramService {
	return &TelegramService{
		bot:            bot,
		chatID:         chatID,
		cooldown:       cooldown,
		lastAlertTimes: make(map[string]time.Time),
		now:            time.Now,
		logger:         logger,
	}
}

// testTelegramConnection tests Telegram connection with retry logic
func testTelegramConnection(bot *tgbotapi.BotAPI, logger *zap.Logger) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		// Try to get bot info to test connection
		_, err := bot.GetMe()

		if err == nil {
			logger.Info("Telegram connection successful")
			return nil
		}

		logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (ts *TelegramService) send(text string) error {
	msg := tgbotapi.NewMessage(ts.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

// SendCareAlert sends the care concerns of a plant, at most once per cooldown per device
func (ts *TelegramService) SendCareAlert(report *models.HealthReport) error {
	if report == nil || len(report.Concerns) == 0 {
		return nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.shouldThrottleAlert(report.DeviceID) {
		ts.logger.Debug("Throttling care alert", zap.String("device_id", report.DeviceID))
		return nil
	}

	if err := ts.send(formatCareMessage(report, ts.now())); err != nil {
		return fmt.Errorf("error sending care alert: %w", err)
	}

	// Update last alert time for this device
	ts.lastAlertTimes[report.DeviceID] = ts.now()

	ts.logger.Info("Sent care alert",
		zap.String("device_id", report.DeviceID),
		zap.Int("concern_count", len(report.Concerns)))
	return nil
}

// shouldThrottleAlert checks if a care alert went out for the device within the cooldown
func (ts *TelegramService) shouldThrottleAlert(deviceID string) bool {
	lastAlertTime, exists := ts.lastAlertTimes[deviceID]
	if !exists {
		return false // No previous alert, don't throttle
	}

	return ts.now().Sub(lastAlertTime) < ts.cooldown
}

// SendOfflineAlert sends an alert when a device stopped advancing its heartbeat
func (ts *TelegramService) SendOfflineAlert(deviceID string, lastSeen time.Time) error {
	if err := ts.send(formatOfflineMessage(deviceID, lastSeen, ts.now())); err != nil {
		return fmt.Errorf("error sending offline alert: %w", err)
	}

	ts.logger.Info("Sent offline alert",
		zap.String("device_id", deviceID),
		zap.Time("last_seen", lastSeen))
	return nil
}

// SendRecoveryAlert sends an alert when a device comes back online
func (ts *TelegramService) SendRecoveryAlert(deviceID string, downtime time.Duration) error {
	if err := ts.send(formatRecoveryMessage(deviceID, downtime, ts.now())); err != nil {
		return fmt.Errorf("error sending recovery alert: %w", err)
	}

	ts.logger.Info("Sent recovery alert",
		zap.String("device_id", deviceID),
		zap.Duration("down_duration", downtime))
	return nil
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	return ts.send(message)
}

// SendStartupMessage sends a message when the monitor starts
func (ts *TelegramService) SendStartupMessage(deviceID string) error {
	message := "🟢 <b>Plantlink Monitor Started</b>\n\n" +
		fmt.Sprintf("🪴 Watching device <code>%s</code>\n", deviceID) +
		"🤖 Telegram notifications active\n\n" +
		"✅ System is ready and operational!"

	return ts.SendStatusMessage(message)
}

// formatCareMessage creates a mobile-friendly care alert
func formatCareMessage(report *models.HealthReport, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("🌱 <b>PLANT NEEDS CARE</b> 🌱\n\n")

	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", report.DeviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", now.Format("2006-01-02 15:04:05")))

	sb.WriteString("📊 <b>Current Readings:</b>\n")
	sb.WriteString(fmt.Sprintf("💧 Water Level: %s\n", report.WaterLevelText()))
	sb.WriteString(fmt.Sprintf("💨 Humidity: %s\n", report.HumidityText()))
	sb.WriteString(fmt.Sprintf("🌡️ Temperature: %s\n\n", report.TemperatureText()))

	sb.WriteString("⚠️ <b>Detected Issues:</b>\n")
	for i, concern := range report.Concerns {
		sb.WriteString(fmt.Sprintf("%s %s <b>%s</b>\n",
			concern.GetSeverityColor(),
			concern.GetConcernEmoji(),
			concernTitle(concern)))

		sb.WriteString(fmt.Sprintf("   └ %s\n", concern.Description))

		if i < len(report.Concerns)-1 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n🔴 <b>Status:</b> ATTENTION REQUIRED")
	return sb.String()
}

// concernTitle returns a user-friendly title for the concern
func concernTitle(concern *models.Concern) string {
	switch concern.Type {
	case models.WaterLow:
		return "Low Water Alert"
	case models.HumidityLow:
		return "Low Humidity Alert"
	case models.TemperatureHigh:
		return "High Temperature Alert"
	default:
		return "Plant Alert"
	}
}

func formatOfflineMessage(deviceID string, lastSeen, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>DEVICE OFFLINE</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", deviceID))
	if lastSeen.IsZero() {
		sb.WriteString("🕐 <b>Last Seen:</b> never\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", lastSeen.Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("⏱️ <b>Time Since Last Heartbeat:</b> %s\n\n", formatDuration(now.Sub(lastSeen))))
	}

	sb.WriteString("💡 <b>Action Required:</b>\n")
	sb.WriteString("The device stopped reporting sensor data. Watering is disabled until it is back.\n\n")
	sb.WriteString("🔴 <b>Status:</b> DEVICE OFFLINE")
	return sb.String()
}

func formatRecoveryMessage(deviceID string, downtime time.Duration, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("✅ <b>DEVICE RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", deviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", now.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downtime)))
	sb.WriteString("🟢 <b>Status:</b> DEVICE ONLINE")
	return sb.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
