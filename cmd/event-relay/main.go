package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/dipstickit/mickyShop-api/pkg/kafka"
	"github.com/dipstickit/mickyShop-api/pkg/logging"
	"github.com/dipstickit/mickyShop-api/pkg/metrics"
	"github.com/dipstickit/mickyShop-api/pkg/outbox"
)

// event-relay drains the order outbox into Kafka. Delivery is at-least-once:
// a crash between publish and MarkSent republishes the row, and consumers
// dedupe on event_id.

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	brokers := getenv("KAFKA_BROKERS", "")
	if brokers == "" {
		return cfg{}, errors.New("KAFKA_BROKERS is required")
	}
	intervalMS, _ := strconv.Atoi(getenv("POLL_INTERVAL_MS", "1000"))
	batch, _ := strconv.Atoi(getenv("BATCH_SIZE", "100"))

	return cfg{
		Port:         getenv("PORT", "4001"),
		DatabaseURL:  db,
		KafkaBrokers: brokers,
		Topic:        getenv("KAFKA_TOPIC", "mickyshop.order.events"),
		PollInterval: time.Duration(intervalMS) * time.Millisecond,
		BatchSize:    batch,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()

	client := kafka.NewClient(cfg.KafkaBrokers)
	writer := client.NewWriter(cfg.Topic)
	defer writer.Close()

	go relay(pool, writer, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("event-relay listening on :%s (topic=%s)", cfg.Port, cfg.Topic)
	log.Fatal(srv.ListenAndServe())
}

func relay(pool *pgxpool.Pool, writer *kafkago.Writer, cfg cfg) {
	for {
		records, err := outbox.FetchPending(context.Background(), pool, cfg.BatchSize)
		if err != nil {
			log.Printf("outbox fetch error: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		for _, rec := range records {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := kafka.PublishJSON(ctx, writer, rec.Key, json.RawMessage(rec.Payload))
			cancel()
			if err != nil {
				// leave the row pending; the next poll retries it
				log.Printf("publish error for event %s: %v", rec.EventID, err)
				break
			}
			if err := outbox.MarkSent(context.Background(), pool, rec.ID); err != nil {
				log.Printf("mark sent error for event %s: %v", rec.EventID, err)
				break
			}
			logging.Log(logging.Fields{Service: "event-relay", EventID: rec.EventID, Step: "publish", Status: "sent"})
		}
		time.Sleep(cfg.PollInterval)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
