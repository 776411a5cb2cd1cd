package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campushub/campushub-backend/internal/auth"
	"github.com/campushub/campushub-backend/internal/events"
	"github.com/campushub/campushub-backend/internal/registrations"
	"github.com/campushub/campushub-backend/internal/users"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/outbox"
	"github.com/campushub/campushub-backend/pkg/saga"
)

type memorySessions struct {
	tokens map[string]string
	seq    int
}

func (m *memorySessions) Generate(_ context.Context, userID string) (string, error) {
	m.seq++
	token := fmt.Sprintf("refresh-%d", m.seq)
	m.tokens[userID] = token
	return token, nil
}

func (m *memorySessions) Rotate(_ context.Context, userID, provided string) (string, error) {
	if m.tokens[userID] != provided {
		return "", fmt.Errorf("refresh token mismatch")
	}
	return m.Generate(context.Background(), userID)
}

func (m *memorySessions) Revoke(_ context.Context, userID string) error {
	delete(m.tokens, userID)
	return nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	client, err := db.NewSQLite(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.DB().AutoMigrate(
		&models.User{},
		&models.Event{},
		&models.Registration{},
		&models.OutboxEvent{},
	))

	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.JWT = config.JWTConfig{
		Secret:                 "router-test-secret",
		Issuer:                 "campushub",
		ExpirationMinutes:      15,
		RefreshTokenTTLMinutes: 60,
	}
	cfg.Password = config.PasswordConfig{
		ArgonMemoryKB:    8192,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}

	authService, err := auth.NewService(auth.ServiceParams{
		DB:             client,
		SessionManager: &memorySessions{tokens: map[string]string{}},
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	require.NoError(t, err)

	outboxService := outbox.NewService(outbox.NewRepository(client.DB()), nil)

	eventsService, err := events.NewService(events.ServiceParams{DB: client, Outbox: outboxService})
	require.NoError(t, err)

	regsService, err := registrations.NewService(registrations.ServiceParams{
		DB:     client,
		Outbox: outboxService,
		Saga:   saga.NewExecutor(nil),
	})
	require.NoError(t, err)

	return NewRouter(RouterParams{
		Config:        cfg,
		Logger:        nil,
		DBPinger:      client,
		AuthService:   authService,
		EventsService: eventsService,
		RegsService:   regsService,
		UsersRepo:     users.NewRepository(client.DB()),
	})
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, router http.Handler, email, role string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":     email,
		"password":  "correct-horse",
		"full_name": "Router Test",
		"role":      role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.AccessToken)
	return resp.Data.AccessToken
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get("X-CampusHub-Env"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/v1/users/me", "/api/v1/events/", "/api/v1/registrations/mine"} {
		rec := doJSON(t, router, http.MethodGet, path, "", nil)
		require.Equalf(t, http.StatusUnauthorized, rec.Code, "path %s", path)
	}
}

func TestEventCreationRequiresOrganizerRole(t *testing.T) {
	router := newTestRouter(t)
	studentToken := register(t, router, "student@example.com", "student")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/events/", studentToken, map[string]any{
		"title":     "Blocked",
		"capacity":  10,
		"starts_at": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestRegistrationFlowEndToEnd(t *testing.T) {
	router := newTestRouter(t)
	organizerToken := register(t, router, "organizer@example.com", "organizer")
	studentToken := register(t, router, "attendee@example.com", "student")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/events/", organizerToken, map[string]any{
		"title":     "Welcome Mixer",
		"capacity":  2,
		"starts_at": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/events/"+created.Data.ID+"/registrations", studentToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/registrations/mine", studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var mine struct {
		Data []struct {
			EventID string `json:"event_id"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine.Data, 1)
	require.Equal(t, created.Data.ID, mine.Data[0].EventID)
	require.Equal(t, "confirmed", mine.Data[0].Status)

	// student must not reach the organizer check-in surface
	rec = doJSON(t, router, http.MethodPost, "/api/v1/registrations/check-in", studentToken, map[string]string{"qr_code": "whatever"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}
