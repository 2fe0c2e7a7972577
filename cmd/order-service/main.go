package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dipstickit/mickyShop-api/internal/order/httpapi"
	"github.com/dipstickit/mickyShop-api/internal/order/repo"
	"github.com/dipstickit/mickyShop-api/internal/order/service"
	"github.com/dipstickit/mickyShop-api/internal/order/zalopay"
	"github.com/dipstickit/mickyShop-api/pkg/metrics"
)

type cfg struct {
	Port             string
	DatabaseURL      string
	EventTopic       string
	StrictStatusFlow bool
	RequestTimeout   time.Duration

	ZPAppID       int
	ZPKey1        string
	ZPKey2        string
	ZPEndpoint    string
	ZPFixedAmount int64
	ServerBaseURL string
	ClientBaseURL string
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	appID, _ := strconv.Atoi(getenv("ZP_APP_ID", "2553"))
	fixedAmount, _ := strconv.ParseInt(getenv("ZP_FIXED_AMOUNT", "50000"), 10, 64)
	toutMS, _ := strconv.Atoi(getenv("REQUEST_TIMEOUT_MS", "10000"))
	strict := strings.ToLower(getenv("STRICT_STATUS_FLOW", "false"))

	return cfg{
		Port:             getenv("PORT", "4000"),
		DatabaseURL:      db,
		EventTopic:       getenv("KAFKA_TOPIC", "mickyshop.order.events"),
		StrictStatusFlow: strict == "1" || strict == "true" || strict == "yes",
		RequestTimeout:   time.Duration(toutMS) * time.Millisecond,
		ZPAppID:          appID,
		ZPKey1:           os.Getenv("ZP_KEY1"),
		ZPKey2:           os.Getenv("ZP_KEY2"),
		ZPEndpoint:       getenv("ZP_ENDPOINT", zalopay.SandboxEndpoint),
		ZPFixedAmount:    fixedAmount,
		ServerBaseURL:    strings.TrimRight(getenv("SERVER", "http://localhost:4000"), "/"),
		ClientBaseURL:    strings.TrimRight(getenv("CLIENT", "http://localhost:3000"), "/"),
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

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	store := repo.NewPostgresStore(pool, cfg.EventTopic)
	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("schema init error: %v", err)
	}

	svc := service.New(store, service.Config{StrictStatusFlow: cfg.StrictStatusFlow})
	gateway := zalopay.NewClient(zalopay.Config{
		AppID:        cfg.ZPAppID,
		Key1:         cfg.ZPKey1,
		Key2:         cfg.ZPKey2,
		Endpoint:     cfg.ZPEndpoint,
		CallbackURL:  cfg.ServerBaseURL + "/order/zalopay/callback",
		RedirectBase: cfg.ClientBaseURL,
		FixedAmount:  cfg.ZPFixedAmount,
	}, &http.Client{Timeout: cfg.RequestTimeout}, svc)

	srvMetrics := metrics.NewServerMetrics("order_service")
	server := httpapi.NewServer(svc, gateway, srvMetrics)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("order-service listening on :%s (STRICT_STATUS_FLOW=%v)", cfg.Port, cfg.StrictStatusFlow)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
