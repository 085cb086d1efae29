package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*tgmodels.Message)
	return msg, args.Error(1)
}

func criticalAnomalies() []models.Anomaly {
	return []models.Anomaly{
		{Metric: models.MetricSuccessRate, Value: 0.12, ZScore: -3.4, Severity: models.AnomalySeverityCritical, Description: "successRate collapsed"},
		{Metric: models.MetricLeadsCount, Value: 90, ZScore: 2.1, Severity: models.AnomalySeverityWarning},
	}
}

func TestNewAnomalyNotifier_DisabledWithoutCredentials(t *testing.T) {
	assert.False(t, NewAnomalyNotifier(config.TelegramConfig{}, quietLogger()).Enabled())
	assert.False(t, NewAnomalyNotifier(config.TelegramConfig{BotToken: "123:abc"}, quietLogger()).Enabled())

	var nilNotifier *AnomalyNotifier
	assert.False(t, nilNotifier.Enabled())
}

func TestAnomalyNotifier_SendsCriticalOnly(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *bot.SendMessageParams) bool {
		return p.ChatID == int64(42) &&
			p.ParseMode == tgmodels.ParseModeMarkdown &&
			strings.Contains(p.Text, "successRate") &&
			!strings.Contains(p.Text, "leadsCount")
	})).Return(&tgmodels.Message{ID: 1}, nil).Once()

	notifier := NewAnomalyNotifierWithSender(sender, 42, quietLogger())
	assert.True(t, notifier.NotifyCritical(context.Background(), "camp-1", criticalAnomalies()))
	sender.AssertExpectations(t)
}

func TestAnomalyNotifier_NoCriticalNoMessage(t *testing.T) {
	sender := &mockSender{}
	notifier := NewAnomalyNotifierWithSender(sender, 42, quietLogger())

	assert.False(t, notifier.NotifyCritical(context.Background(), "camp-1", criticalAnomalies()[1:]))
	sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestAnomalyNotifier_SendFailureIsSwallowed(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("telegram down"))

	notifier := NewAnomalyNotifierWithSender(sender, 42, quietLogger())
	assert.False(t, notifier.NotifyCritical(context.Background(), "camp-1", criticalAnomalies()))
}

func TestFormatAnomalyMessage(t *testing.T) {
	anomalies := make([]models.Anomaly, 7)
	for i := range anomalies {
		anomalies[i] = models.Anomaly{Metric: models.MetricWarningRate, Value: 0.5, ZScore: 3.5, Severity: models.AnomalySeverityCritical}
	}
	anomalies[0] = criticalAnomalies()[0]

	msg := formatAnomalyMessage("camp-1", anomalies)
	require.Contains(t, msg, "*Critical anomalies in campaign camp-1*")
	assert.Contains(t, msg, "*1. successRate* 📉")
	assert.Contains(t, msg, "Value: 0.12 (z = -3.40)")
	assert.Contains(t, msg, "successRate collapsed")
	assert.Contains(t, msg, "*5. warningRate* 📈")
	assert.NotContains(t, msg, "*6.")
	assert.Contains(t, msg, "...and 2 more")
}
