//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/app"
	"github.com/bissquit/incident-orchestrator/internal/config"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/identity"
	"github.com/bissquit/incident-orchestrator/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// OpenAPI spec path relative to the tests/integration directory.
	openAPISpecPath = "../../api/openapi/openapi.yaml"
	jwtSecret       = "integration-secret-0123456789abcdef"
)

var (
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	testDB        *pgxpool.Pool
	testTokens    *identity.Service
	testAPIKey    string
	webhookSink   *sink
)

// sink records webhook deliveries.
type sink struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		s.mu.Lock()
		s.payloads = append(s.payloads, payload)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *sink) snapshot() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.payloads...)
}

func TestMain(m *testing.M) {
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

	webhookSink = &sink{}
	webhookServer := httptest.NewServer(webhookSink)
	defer webhookServer.Close()

	var apiKeyHash string
	testAPIKey, apiKeyHash, err = identity.GenerateAPIKey()
	if err != nil {
		log.Fatalf("generate api key: %v", err)
	}

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Database.MaxOpenConns = 10
	cfg.Database.MaxIdleConns = 2
	cfg.Database.ConnectAttempts = 3
	// the app applies the embedded migrations on startup
	cfg.Database.AutoMigrate = true
	cfg.Storage.Driver = config.DriverPostgres
	cfg.Log = config.LogConfig{Level: "error", Format: "text"}
	cfg.Auth.JWTSecret = jwtSecret
	cfg.Auth.APIKeys = []config.APIKeyConfig{{Name: "fleet-monitor", Hash: apiKeyHash, Role: "system"}}
	cfg.Runbooks.Dir = "../../runbooks"
	cfg.Notifications.Workers = 2
	cfg.Notifications.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Notifications.Retry.MaxBackoff = 50 * time.Millisecond
	cfg.Notifications.Webhook.URL = webhookServer.URL

	application, err := app.New(&cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testTokens, err = identity.NewService(identity.Config{JWTSecret: jwtSecret, Issuer: cfg.Auth.Issuer})
	if err != nil {
		log.Fatalf("create token issuer: %v", err)
	}

	// Create a direct DB connection for tests that need it
	testDB, err = pgContainer.NewPool(ctx)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	testServer = httptest.NewServer(application.Router())

	testValidator, err = testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	code := m.Run()

	testServer.Close()
	testDB.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	os.Exit(code)
}

// newClient returns a validating client authenticated with the given role.
func newClient(t *testing.T, role domain.Role) *testutil.Client {
	t.Helper()
	token, _, err := testTokens.IssueToken("it-"+string(role), "it "+string(role), role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	client := testutil.NewClientWithValidator(testServer.URL, testValidator).WithToken(token)
	client.SetT(t)
	return client
}
