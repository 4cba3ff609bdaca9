package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"icecold/config"
	"icecold/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	every       = flag.Duration("every", 10*time.Second, "Interval between readings per sensor")
	excursion   = flag.Float64("excursion", 0.1, "Probability of an out-of-range reading (0.0-1.0)")
	dropout     = flag.Float64("dropout", 0.0, "Probability of skipping a reading (0.0-1.0)")
	celsius     = flag.Bool("celsius", false, "Publish temperature_c instead of temperature_f")
	seed        = flag.Int64("seed", 0, "Random seed (0 uses the current time)")
	mqttBroker  = flag.String("broker", "", "MQTT broker address (host:port), defaults to MQTT_BROKER")
	topicPrefix = flag.String("topic-prefix", "icecold/readings", "Topic prefix; the sensor key is appended")
)

// toPayload converts a generated reading into the node wire format
func toPayload(reading services.MQTTReading, tempF float64, useCelsius bool) services.MQTTReading {
	if useCelsius {
		c := (tempF - 32) * 5 / 9
		reading.TemperatureC = &c
	} else {
		reading.TemperatureF = &tempF
	}
	return reading
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	broker := *mqttBroker
	if broker == "" {
		broker = cfg.MQTTBroker
	}
	if broker == "" {
		broker = "localhost:1883"
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	logger.Info("MQTT reading generator started",
		zap.Int("sensors", len(cfg.Sensors)),
		zap.Duration("every", *every),
		zap.Float64("excursion_probability", *excursion),
		zap.String("mqtt_broker", broker),
		zap.String("topic_prefix", *topicPrefix),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	// Initialize MQTT client (simulating a sensor node)
	opts := mqtt.NewClientOptions()
	if strings.Contains(broker, "://") {
		opts.AddBroker(broker)
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	}
	opts.SetClientID(fmt.Sprintf("%s-generator", cfg.MQTTClientID))
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	generator := services.NewReadingGenerator(*seed, *excursion, *dropout)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	messageCount := 0
	skipped := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down gracefully",
				zap.Int("total_messages", messageCount),
				zap.Int("skipped", skipped),
				zap.Duration("total_uptime", time.Since(startTime)),
			)
			return

		case now := <-ticker.C:
			for _, spec := range cfg.Sensors {
				reading, err := generator.Generate(spec, now)
				if err != nil {
					// The monitor sees this as a missing reading
					skipped++
					continue
				}

				payload := toPayload(services.MQTTReading{
					SensorName:  reading.SensorName,
					HumidityPct: reading.HumidityPct,
					ObservedAt:  reading.ObservedAt.UTC(),
				}, reading.TemperatureF, *celsius)

				jsonData, err := json.Marshal(payload)
				if err != nil {
					logger.Error("Failed to marshal reading", zap.Error(err))
					continue
				}

				topic := *topicPrefix + "/" + strings.ToLower(config.SensorKey(spec.Name))
				token := mqttClient.Publish(topic, 1, false, jsonData)
				if token.Wait() && token.Error() != nil {
					logger.Error("Failed to publish MQTT message",
						zap.String("topic", topic),
						zap.Error(token.Error()))
					continue
				}

				messageCount++
				logger.Debug("Published reading",
					zap.String("sensor", spec.Name),
					zap.String("topic", topic),
					zap.Float64("temperature_f", reading.TemperatureF),
					zap.Float64("humidity_pct", reading.HumidityPct))
			}
		}
	}
}
