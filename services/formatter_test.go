package services

import (
	"testing"

	"icecold/models"
)

func TestFormat(t *testing.T) {
	r := models.Reading{SensorName: "Freezer", TemperatureF: 12.345, HumidityPct: 55.55}

	tests := []struct {
		name  string
		event *models.AlertEvent
		want  string
	}{
		{
			name:  "raise high",
			event: &models.AlertEvent{Kind: models.AlertRaiseHigh, SensorName: "Freezer", Reading: r, Threshold: 10},
			want:  "ALERT: Freezer Temperature above 10.0°F\nFreezer Temperature: 12.3°F\nFreezer Humidity: 55.5%\n",
		},
		{
			name:  "raise low",
			event: &models.AlertEvent{Kind: models.AlertRaiseLow, SensorName: "Freezer", Reading: r, Threshold: 15.25},
			want:  "ALERT: Freezer Temperature below 15.2°F\nFreezer Temperature: 12.3°F\nFreezer Humidity: 55.5%\n",
		},
		{
			name:  "clear",
			event: &models.AlertEvent{Kind: models.AlertClear, SensorName: "Freezer", Reading: r, Threshold: 10},
			want:  "NOTICE: Freezer Temperature is now back within range at 12.3°F\n",
		},
	}

	f := NewAlertFormatter(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Format(tt.event); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatTagsRecipients(t *testing.T) {
	f := NewAlertFormatter([]string{"<@U123>", "<@U456>"})
	event := &models.AlertEvent{
		Kind:       models.AlertClear,
		SensorName: "Fridge",
		Reading:    models.Reading{SensorName: "Fridge", TemperatureF: 36},
	}

	want := "<@U123> <@U456> NOTICE: Fridge Temperature is now back within range at 36.0°F\n"
	if got := f.Format(event); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := f.FormatText("hello\n"); got != "<@U123> <@U456> hello\n" {
		t.Errorf("FormatText: got %q", got)
	}
}

func TestFormatterCopiesRecipients(t *testing.T) {
	recipients := []string{"@ops"}
	f := NewAlertFormatter(recipients)
	recipients[0] = "@changed"

	if got := f.FormatText("x"); got != "@ops x" {
		t.Errorf("got %q", got)
	}
}
