package services

import (
	"fmt"
	"strings"

	"icecold/models"
)

// AlertFormatter renders alert events into plain text messages
type AlertFormatter struct {
	recipients []string
}

// NewAlertFormatter creates a formatter that tags the given recipients on every message
func NewAlertFormatter(recipients []string) *AlertFormatter {
	return &AlertFormatter{
		recipients: append([]string(nil), recipients...),
	}
}

// Format builds the message for an alert event
func (f *AlertFormatter) Format(event *models.AlertEvent) string {
	var sb strings.Builder
	name := event.SensorName
	reading := event.Reading

	switch event.Kind {
	case models.AlertRaiseHigh, models.AlertRaiseLow:
		direction := "above"
		if event.Kind == models.AlertRaiseLow {
			direction = "below"
		}
		sb.WriteString(fmt.Sprintf("ALERT: %s Temperature %s %.1f°F\n", name, direction, event.Threshold))
		sb.WriteString(fmt.Sprintf("%s Temperature: %.1f°F\n", name, reading.TemperatureF))
		sb.WriteString(fmt.Sprintf("%s Humidity: %.1f%%\n", name, reading.HumidityPct))
	default:
		sb.WriteString(fmt.Sprintf("NOTICE: %s Temperature is now back within range at %.1f°F\n", name, reading.TemperatureF))
	}

	return f.tag(sb.String())
}

// FormatText tags an arbitrary notice, used for startup and sensor health messages
func (f *AlertFormatter) FormatText(message string) string {
	return f.tag(message)
}

func (f *AlertFormatter) tag(message string) string {
	if len(f.recipients) == 0 {
		return message
	}
	return strings.Join(f.recipients, " ") + " " + message
}
