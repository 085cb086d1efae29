package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/observability"
)

// maxAlertAnomalies bounds how many anomalies one message lists.
const maxAlertAnomalies = 5

// MessageSender is the part of the Telegram bot API the notifier uses.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// AnomalyNotifier pushes critical anomalies to a Telegram chat. Without a bot
// token or chat id it does nothing.
type AnomalyNotifier struct {
	sender MessageSender
	chatID int64
	logger *logrus.Logger
}

// NewAnomalyNotifier creates a notifier from the Telegram configuration.
func NewAnomalyNotifier(cfg config.TelegramConfig, logger *logrus.Logger) *AnomalyNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	n := &AnomalyNotifier{chatID: cfg.ChatID, logger: logger}
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return n
	}

	telegramBot, err := bot.New(cfg.BotToken, bot.WithSkipGetMe())
	if err != nil {
		logger.WithError(err).Warn("Telegram bot unavailable, anomaly alerts disabled")
		return n
	}
	n.sender = telegramBot
	return n
}

// NewAnomalyNotifierWithSender creates a notifier around an existing sender.
func NewAnomalyNotifierWithSender(sender MessageSender, chatID int64, logger *logrus.Logger) *AnomalyNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnomalyNotifier{sender: sender, chatID: chatID, logger: logger}
}

// Enabled reports whether alerts will be sent.
func (n *AnomalyNotifier) Enabled() bool {
	return n != nil && n.sender != nil && n.chatID != 0
}

// NotifyCritical sends one message listing the critical anomalies of a
// campaign. It reports whether a message was sent; failures are logged only.
func (n *AnomalyNotifier) NotifyCritical(ctx context.Context, campaignID string, anomalies []models.Anomaly) bool {
	if !n.Enabled() {
		return false
	}

	critical := make([]models.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if a.Severity == models.AnomalySeverityCritical {
			critical = append(critical, a)
		}
	}
	if len(critical) == 0 {
		return false
	}

	ctx, span := observability.StartSpanWithTags(ctx, observability.SpanOpNotification, "AnomalyNotifier.NotifyCritical", map[string]string{
		"campaign_id": campaignID,
	})
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      formatAnomalyMessage(campaignID, critical),
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	observability.FinishSpan(span, err)

	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"anomalies":   len(critical),
			"error":       err.Error(),
		}).Warn("Failed to send anomaly alert")
		return false
	}

	n.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"anomalies":   len(critical),
	}).Info("Sent anomaly alert")
	return true
}

// formatAnomalyMessage renders a Markdown alert for the first few anomalies.
func formatAnomalyMessage(campaignID string, anomalies []models.Anomaly) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 *Critical anomalies in campaign %s*\n\n", campaignID)

	top := anomalies
	if len(top) > maxAlertAnomalies {
		top = top[:maxAlertAnomalies]
	}
	for i, a := range top {
		direction := "📈"
		if a.ZScore < 0 {
			direction = "📉"
		}
		fmt.Fprintf(&sb, "*%d. %s* %s\n", i+1, a.Metric, direction)
		fmt.Fprintf(&sb, "Value: %g (z = %.2f)\n", a.Value, a.ZScore)
		if a.Description != "" {
			sb.WriteString(a.Description + "\n")
		}
		sb.WriteString("\n")
	}
	if len(anomalies) > maxAlertAnomalies {
		fmt.Fprintf(&sb, "...and %d more\n\n", len(anomalies)-maxAlertAnomalies)
	}
	sb.WriteString("Open the campaign dashboard for details.")
	return sb.String()
}
