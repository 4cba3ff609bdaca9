package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"icecold/config"
	"icecold/models"
	"icecold/services"

	"go.uber.org/zap"
)

var (
	sensor  = flag.String("sensor", "", "Sensor name (default: every configured sensor)")
	limit   = flag.Int("limit", 20, "Number of most recent measurements per sensor")
	csvFile = flag.String("csv", "", "Read a CSV reading log instead of Firebase")
)

func main() {
	flag.Parse()

	if *csvFile != "" {
		measurements, err := services.LoadCSVFile(*csvFile)
		if err != nil {
			log.Fatalf("Error reading %s: %v", *csvFile, err)
		}
		fmt.Printf("Total entries found: %d\n", len(measurements))
		printMeasurements(measurements)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if cfg.FirebaseDbUrl == "" || cfg.FirebaseServiceAccountJSON == "" {
		log.Fatal("FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON must be set")
	}

	store, err := services.NewFirebaseStore(cfg, zap.NewNop())
	if err != nil {
		log.Fatalf("Error initializing Firebase: %v", err)
	}
	defer store.Close()

	names := []string{*sensor}
	if *sensor == "" {
		names = names[:0]
		for _, spec := range cfg.Sensors {
			names = append(names, spec.Name)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, name := range names {
		measurements, err := store.LatestMeasurements(ctx, name, *limit)
		if err != nil {
			log.Printf("Error reading telemetry for %s: %v", name, err)
			continue
		}

		fmt.Printf("%s: %d entries\n", name, len(measurements))
		printMeasurements(measurements)
		fmt.Println("---")
	}
}

func printMeasurements(measurements []models.Measurement) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSENSOR\tMETRIC\tVALUE")
	for _, m := range measurements {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\n", m.ObservedAt.Format(time.RFC3339), m.SensorName, m.Metric, m.Value)
	}
	w.Flush()
}
