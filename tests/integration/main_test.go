//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bissquit/incident-alerts/internal/app"
	"github.com/bissquit/incident-alerts/internal/config"
	"github.com/bissquit/incident-alerts/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var (
	testServer   *httptest.Server
	testContract *testutil.Contract
	testDB       *pgxpool.Pool
	testRedis    *redis.Client
	testApp      *app.App
	mailbox      *mailpitMailbox
)

const openAPISpecPath = "../../api/openapi/openapi.yaml"

// newTestClient returns a client that checks every response against the OpenAPI document.
func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	return testutil.NewClient(testServer.URL).Checked(t, testContract)
}

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	redisContainer, err := testutil.NewRedisContainer(ctx)
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Printf("terminate redis: %v", err)
		}
	}()

	smtpContainer, err := testutil.NewMailpitContainer(ctx)
	if err != nil {
		log.Fatalf("start mailpit: %v", err)
	}
	defer func() {
		if err := smtpContainer.Terminate(ctx); err != nil {
			log.Printf("terminate mailpit: %v", err)
		}
	}()
	mailbox = newMailbox(smtpContainer.APIHost, smtpContainer.APIPort)

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Log = config.LogConfig{Level: "error", Format: "text"}
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Database.ConnectAttempts = 3
	// app.New applies the migrations
	cfg.Database.Migrate = true
	cfg.Database.MigrationsPath = "../../migrations"
	cfg.Redis.Addr = redisContainer.Addr
	cfg.Rules.Store = config.BackendPostgres
	cfg.Rules.RefreshInterval = time.Second
	cfg.Dedup.Backend = config.BackendRedis
	cfg.Delivery.Store = config.BackendPostgres
	cfg.Delivery.Workers = 2
	cfg.Delivery.MaxAttempts = 3
	cfg.Delivery.InitialBackoff = 50 * time.Millisecond
	cfg.Delivery.MaxBackoff = 200 * time.Millisecond
	cfg.Delivery.Jitter = 0
	cfg.Delivery.SendTimeout = 5 * time.Second
	cfg.Channels.Email = config.EmailConfig{
		Enabled:     true,
		SMTPHost:    smtpContainer.SMTPHost,
		SMTPPort:    smtpContainer.SMTPPort,
		FromAddress: "alerts@example.com",
		Burst:       10,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid test config: %v", err)
	}

	testApp, err = app.New(&cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}
	if err := testApp.Start(ctx); err != nil {
		log.Fatalf("start app: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := testApp.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown app: %v", err)
		}
	}()

	// direct connections for store-level tests
	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}
	defer testDB.Close()

	testRedis = redis.NewClient(&redis.Options{Addr: redisContainer.Addr})
	defer func() { _ = testRedis.Close() }()

	testServer = httptest.NewServer(testApp.Router())
	defer testServer.Close()

	testContract, err = testutil.LoadContract(openAPISpecPath)
	if err != nil {
		log.Fatalf("load OpenAPI contract: %v", err)
	}

	return m.Run()
}
