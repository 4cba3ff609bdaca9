package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"icecold/models"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Sensor sources
const (
	SourceBME280    = "bme280"
	SourceMQTT      = "mqtt"
	SourceSimulated = "simulated"
)

// Notification channels
const (
	ChannelSlack    = "slack"
	ChannelTelegram = "telegram"
	ChannelWebhook  = "webhook"
	ChannelLog      = "log"
)

const (
	defaultConfigFile    = ".env"
	defaultDebounceCount = 3
	defaultI2CBus        = "1"
	defaultI2CAddress    = 0x77
)

type Config struct {
	ConfigFile string

	// Polling
	Sensors            []models.SensorSpec
	PollInterval       time.Duration
	SampleTimeout      time.Duration
	NotifyTimeout      time.Duration
	SinkTimeout        time.Duration
	SourceOfflineAfter int

	// Acquisition
	SensorSource string
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTMaxAge   time.Duration

	// Notifications
	NotificationChannel     string
	NotificationDestination string
	Recipients              []string
	SlackAPIToken           string
	TelegramBotToken        string
	WebhookURL              string

	// Telemetry
	CSVDataDir                 string
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	FirebaseBatchSize          int
	FirebaseBatchTimeout       int
	RabbitMQURL                string
	RabbitMQExchange           string
	KafkaBrokers               []string
	KafkaTopic                 string

	// Configuration editor and metrics
	HTTPAddr string
}

// LoadConfig reads CONFIG_FILE (default .env) and overlays the process environment.
// Variables already set in the environment win over the file, like godotenv.Load.
func LoadConfig() (*Config, error) {
	file := os.Getenv("CONFIG_FILE")
	if file == "" {
		file = defaultConfigFile
	}

	values, err := godotenv.Read(file)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
		values = make(map[string]string)
	}

	cfg, err := Parse(WithEnvironment(values))
	if err != nil {
		return nil, err
	}
	cfg.ConfigFile = file
	return cfg, nil
}

// WithEnvironment returns a copy of values with the process environment laid over it
func WithEnvironment(values map[string]string) map[string]string {
	merged := make(map[string]string, len(values))
	for key, value := range values {
		merged[key] = value
	}
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			merged[key] = value
		}
	}
	return merged
}

// Parse builds a validated Config from key/value settings.
// Every problem found is reported, not only the first one.
func Parse(values map[string]string) (*Config, error) {
	e := env(values)
	var errs error

	config := &Config{
		SensorSource: strings.ToLower(e.getEnv("SENSOR_SOURCE", SourceBME280)),
		MQTTBroker:   e.getEnv("MQTT_BROKER", ""),
		MQTTTopic:    e.getEnv("MQTT_TOPIC", "icecold/readings/+"),
		MQTTClientID: e.getEnv("MQTT_CLIENT_ID", "icecold-monitor"),
		MQTTUsername: e.getEnv("MQTT_USERNAME", ""),
		MQTTPassword: e.getEnv("MQTT_PASSWORD", ""),

		NotificationChannel: strings.ToLower(e.getEnv("NOTIFICATION_CHANNEL", ChannelLog)),
		SlackAPIToken:       e.getEnv("SLACK_API_TOKEN", ""),
		TelegramBotToken:    e.getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:          e.getEnv("WEBHOOK_URL", ""),

		CSVDataDir:                 e.getEnv("CSV_DATA_DIR", ""),
		FirebaseDbUrl:              e.getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: e.getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		RabbitMQURL:                e.getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:           e.getEnv("RABBITMQ_EXCHANGE", "icecold"),
		KafkaBrokers:               e.getEnvList("KAFKA_BROKERS"),
		KafkaTopic:                 e.getEnv("KAFKA_TOPIC", "icecold-readings"),

		HTTPAddr: e.getEnv("HTTP_ADDR", ":8080"),
	}

	recipients := e.getEnvList("NOTIFICATION_RECIPIENTS")
	if len(recipients) == 0 {
		recipients = e.getEnvList("SLACK_USERS_TO_TAG")
	}
	config.Recipients = recipients

	config.NotificationDestination = e.getEnv("NOTIFICATION_DESTINATION", "")
	if config.NotificationDestination == "" {
		switch config.NotificationChannel {
		case ChannelSlack:
			config.NotificationDestination = e.getEnv("SLACK_CHANNEL", "")
		case ChannelTelegram:
			config.NotificationDestination = e.getEnv("TELEGRAM_CHAT_ID", "")
		}
	}

	interval, err := e.pollInterval()
	errs = multierr.Append(errs, err)
	config.PollInterval = interval

	sampleTimeout, err := e.getEnvInt("SAMPLE_TIMEOUT_SECONDS", 10)
	errs = multierr.Append(errs, err)
	config.SampleTimeout = time.Duration(sampleTimeout) * time.Second

	notifyTimeout, err := e.getEnvInt("NOTIFY_TIMEOUT_SECONDS", 15)
	errs = multierr.Append(errs, err)
	config.NotifyTimeout = time.Duration(notifyTimeout) * time.Second

	sinkTimeout, err := e.getEnvInt("SINK_TIMEOUT_SECONDS", 10)
	errs = multierr.Append(errs, err)
	config.SinkTimeout = time.Duration(sinkTimeout) * time.Second

	config.SourceOfflineAfter, err = e.getEnvInt("SOURCE_OFFLINE_AFTER", 5)
	errs = multierr.Append(errs, err)

	maxAge, err := e.getEnvInt("MQTT_MAX_AGE_SECONDS", 0)
	errs = multierr.Append(errs, err)
	config.MQTTMaxAge = time.Duration(maxAge) * time.Second

	config.FirebaseBatchSize, err = e.getEnvInt("FIREBASE_BATCH_SIZE", 20)
	errs = multierr.Append(errs, err)
	config.FirebaseBatchTimeout, err = e.getEnvInt("FIREBASE_BATCH_TIMEOUT", 30)
	errs = multierr.Append(errs, err)

	sensors, err := e.sensors()
	errs = multierr.Append(errs, err)
	config.Sensors = sensors

	errs = multierr.Append(errs, config.validate())
	if errs != nil {
		return nil, errs
	}
	return config, nil
}

// validate checks cross-field rules that individual parsers cannot see
func (c *Config) validate() error {
	var errs error

	if c.PollInterval <= 0 {
		errs = multierr.Append(errs, errors.New("poll interval must be positive"))
	}
	if c.SampleTimeout <= 0 || c.NotifyTimeout <= 0 || c.SinkTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("SAMPLE_TIMEOUT_SECONDS, NOTIFY_TIMEOUT_SECONDS and SINK_TIMEOUT_SECONDS must be positive"))
	}
	if c.SourceOfflineAfter < 0 {
		errs = multierr.Append(errs, errors.New("SOURCE_OFFLINE_AFTER must not be negative"))
	}

	switch c.SensorSource {
	case SourceBME280, SourceSimulated:
	case SourceMQTT:
		if c.MQTTBroker == "" {
			errs = multierr.Append(errs, errors.New("MQTT_BROKER is required for the mqtt sensor source"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown SENSOR_SOURCE %q", c.SensorSource))
	}

	switch c.NotificationChannel {
	case ChannelLog:
	case ChannelSlack:
		if c.SlackAPIToken == "" || c.NotificationDestination == "" {
			errs = multierr.Append(errs, errors.New("slack notifications need SLACK_API_TOKEN and SLACK_CHANNEL"))
		}
	case ChannelTelegram:
		if c.TelegramBotToken == "" || c.NotificationDestination == "" {
			errs = multierr.Append(errs, errors.New("telegram notifications need TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID"))
		}
	case ChannelWebhook:
		if c.WebhookURL == "" {
			errs = multierr.Append(errs, errors.New("webhook notifications need WEBHOOK_URL"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown NOTIFICATION_CHANNEL %q", c.NotificationChannel))
	}

	if c.FirebaseDbUrl != "" && c.FirebaseServiceAccountJSON == "" {
		errs = multierr.Append(errs, errors.New("FIREBASE_SERVICE_ACCOUNT_JSON is required when FIREBASE_DB_URL is set"))
	}
	if c.FirebaseBatchSize < 1 || c.FirebaseBatchTimeout < 1 {
		errs = multierr.Append(errs, errors.New("FIREBASE_BATCH_SIZE and FIREBASE_BATCH_TIMEOUT must be positive"))
	}

	return errs
}

// SensorKey turns a sensor name into the token used in its settings keys,
// e.g. "Walk-in Freezer" -> "WALK_IN_FREEZER".
func SensorKey(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, strings.TrimSpace(name))
}

type env map[string]string

func (e env) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(e[key]); value != "" {
		return value
	}
	return defaultValue
}

func (e env) getEnvInt(key string, defaultValue int) (int, error) {
	value := e.getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func (e env) getEnvFloat(key string) (float64, bool, error) {
	value := e.getEnv(key, "")
	if value == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid number %q", key, value)
	}
	return f, true, nil
}

// getEnvList splits on commas and whitespace
func (e env) getEnvList(key string) []string {
	return strings.FieldsFunc(e[key], func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// pollInterval prefers POLL_INTERVAL_SECONDS and falls back to MINUTES_BETWEEN_READS
func (e env) pollInterval() (time.Duration, error) {
	if e.getEnv("POLL_INTERVAL_SECONDS", "") != "" {
		seconds, err := e.getEnvInt("POLL_INTERVAL_SECONDS", 0)
		return time.Duration(seconds) * time.Second, err
	}
	minutes, err := e.getEnvInt("MINUTES_BETWEEN_READS", 5)
	return time.Duration(minutes) * time.Minute, err
}

func (e env) sensors() ([]models.SensorSpec, error) {
	var errs error

	names := strings.Split(e["SENSORS"], ",")
	defaultDebounce, err := e.getEnvInt("THRESHOLD_COUNT", defaultDebounceCount)
	errs = multierr.Append(errs, err)

	var specs []models.SensorSpec
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := SensorKey(name)
		if seen[key] {
			errs = multierr.Append(errs, fmt.Errorf("sensor %q is configured more than once", name))
			continue
		}
		seen[key] = true

		spec, err := e.sensor(name, key, defaultDebounce)
		errs = multierr.Append(errs, err)
		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		errs = multierr.Append(errs, errors.New("SENSORS must name at least one sensor"))
	}
	return specs, errs
}

func (e env) sensor(name, key string, defaultDebounce int) (models.SensorSpec, error) {
	var errs error
	prefix := "SENSOR_" + key + "_"

	spec := models.SensorSpec{
		Name:   name,
		I2CBus: e.getEnv(prefix+"I2C_BUS", defaultI2CBus),
	}

	upper, ok, err := e.getEnvFloat(prefix + "UPPER_THRESHOLD")
	errs = multierr.Append(errs, err)
	if !ok && err == nil {
		errs = multierr.Append(errs, fmt.Errorf("%sUPPER_THRESHOLD is required", prefix))
	}
	spec.UpperThreshold = upper

	lower, ok, err := e.getEnvFloat(prefix + "LOWER_THRESHOLD")
	errs = multierr.Append(errs, err)
	if ok {
		spec.LowerThreshold = &lower
		if lower >= upper {
			errs = multierr.Append(errs, fmt.Errorf("sensor %q: lower threshold %.1f must be below upper threshold %.1f", name, lower, upper))
		}
	}

	spec.DebounceCount, err = e.getEnvInt(prefix+"DEBOUNCE_COUNT", defaultDebounce)
	errs = multierr.Append(errs, err)
	if spec.DebounceCount < 1 {
		errs = multierr.Append(errs, fmt.Errorf("sensor %q: debounce count must be at least 1", name))
	}

	address := e.getEnv(prefix+"I2C_ADDRESS", "")
	spec.I2CAddress = defaultI2CAddress
	if address != "" {
		a, err := strconv.ParseUint(address, 0, 16)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sI2C_ADDRESS: invalid address %q", prefix, address))
		} else {
			spec.I2CAddress = uint16(a)
		}
	}

	return spec, errs
}
