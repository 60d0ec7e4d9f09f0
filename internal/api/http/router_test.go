package http_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/queue-service/internal/api/http"
	"github.com/spec-kit/queue-service/internal/api/http/handlers"
	"github.com/spec-kit/queue-service/internal/auth"
	"github.com/spec-kit/queue-service/internal/directory"
	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/events"
	"github.com/spec-kit/queue-service/internal/observability"
	"github.com/spec-kit/queue-service/internal/repository"
	"github.com/spec-kit/queue-service/internal/service"
)

type envelope struct {
	Data         json.RawMessage `json:"data"`
	PollInterval int             `json:"poll_interval_seconds"`
	Error        struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type ticketBody struct {
	ID            string `json:"id"`
	DisplayNumber string `json:"display_number"`
	Status        string `json:"status"`
	OwnerID       string `json:"owner_id"`
	Ahead         int    `json:"ahead"`
}

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	dir, err := directory.New([]domain.Department{
		{Code: "IO", Name: "International Office", Capacity: 2},
		{Code: "FO", Name: "Financial Office"},
	}, 30)
	require.NoError(t, err)

	store := repository.NewMemoryTicketStore()
	metrics := observability.NewMetrics()
	dispatch := service.NewDispatchService(service.DispatchDependencies{
		Store:                 store,
		Directory:             dir,
		Dispatcher:            events.NewInMemoryDispatcher(),
		Metrics:               metrics,
		Logger:                logger,
		DefaultCapacity:       30,
		OneLiveTicketPerOwner: true,
	})
	query := service.NewQueryService(store, dir, logger)
	tokens := auth.NewTokenManager("test-secret", 5)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{Timeout: 5 * time.Second})
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler("queue-service", "test", metrics),
		Tickets:        handlers.NewTicketsHandler(dispatch, query, 3*time.Second),
		StaffTickets:   handlers.NewStaffTicketsHandler(dispatch),
		Departments:    handlers.NewDepartmentsHandler(query, 3*time.Second),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) token(t *testing.T, subject domain.SubjectType, id, department string) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(id, subject, department)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decodeTicket(t *testing.T, env envelope) ticketBody {
	t.Helper()
	var ticket ticketBody
	require.NoError(t, json.Unmarshal(env.Data, &ticket))
	return ticket
}

func TestQueueFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, domain.SubjectTypeStudent, "alice", "")
	bob := s.token(t, domain.SubjectTypeStudent, "bob", "")
	carol := s.token(t, domain.SubjectTypeStudent, "carol", "")
	desk := s.token(t, domain.SubjectTypeStaff, "desk-1", "IO")

	status, env := s.do(t, http.MethodPost, "/api/tickets", "", `{"department_code":"IO"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/tickets", alice, `{"department_code":"IO"}`)
	require.Equal(t, http.StatusCreated, status)
	first := decodeTicket(t, env)
	assert.Equal(t, "IO-1", first.DisplayNumber)
	assert.Equal(t, "PENDING", first.Status)
	assert.Equal(t, "alice", first.OwnerID)

	status, env = s.do(t, http.MethodPost, "/api/tickets/"+first.ID+"/confirm", alice, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "WAITING", decodeTicket(t, env).Status)

	status, env = s.do(t, http.MethodPost, "/api/tickets", bob, `{"department_name":"International Office"}`)
	require.Equal(t, http.StatusCreated, status)
	second := decodeTicket(t, env)
	assert.Equal(t, "IO-2", second.DisplayNumber)

	status, env = s.do(t, http.MethodPost, "/api/tickets", carol, `{"department_code":"IO"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "QUEUE_FULL", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/departments/IO/call-next", alice, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/departments/IO/call-next", desk, "")
	require.Equal(t, http.StatusOK, status)
	called := decodeTicket(t, env)
	assert.Equal(t, first.ID, called.ID)
	assert.Equal(t, "IN_SERVICE", called.Status)

	status, env = s.do(t, http.MethodPost, "/api/departments/IO/call-next", desk, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_SERVING", env.Error.Code)

	status, env = s.do(t, http.MethodGet, "/api/tickets/"+first.ID, alice, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, env.PollInterval)
	assert.Equal(t, "IN_SERVICE", decodeTicket(t, env).Status)

	status, env = s.do(t, http.MethodGet, "/api/departments/counts", alice, "")
	require.Equal(t, http.StatusOK, status)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &counts))
	assert.Equal(t, map[string]int{"IO": 2, "FO": 0}, counts)

	status, env = s.do(t, http.MethodPost, "/api/tickets/"+first.ID+"/complete", desk, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "COMPLETED", decodeTicket(t, env).Status)

	status, env = s.do(t, http.MethodPost, "/api/tickets/"+first.ID+"/cancel", alice, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)

	status, _ = s.do(t, http.MethodDelete, "/api/tickets/"+second.ID, bob, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, env = s.do(t, http.MethodGet, "/api/departments/io/next-number", carol, "")
	require.Equal(t, http.StatusOK, status)
	var next struct {
		DisplayNumber string `json:"display_number"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &next))
	assert.Equal(t, "IO-3", next.DisplayNumber)

	status, env = s.do(t, http.MethodGet, "/api/tickets/"+first.ID+"/history", alice, "")
	require.Equal(t, http.StatusOK, status)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 4)
}

func TestListTicketsQueryParameters(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, domain.SubjectTypeStudent, "alice", "")
	bob := s.token(t, domain.SubjectTypeStudent, "bob", "")

	status, _ := s.do(t, http.MethodPost, "/api/tickets", alice, `{"department_code":"IO"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = s.do(t, http.MethodPost, "/api/tickets", bob, `{"department_code":"FO"}`)
	require.Equal(t, http.StatusCreated, status)

	status, env := s.do(t, http.MethodGet, "/api/tickets?status=bogus", alice, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	var list []ticketBody
	status, env = s.do(t, http.MethodGet, "/api/tickets?status=pending&department_name=Financial%20Office", alice, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "FO-1", list[0].DisplayNumber)

	status, env = s.do(t, http.MethodGet, "/api/tickets?department_name=international%20office", alice, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "IO-1", list[0].DisplayNumber)

	status, env = s.do(t, http.MethodGet, "/api/tickets?department_name=Registry", alice, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)

	status, env = s.do(t, http.MethodGet, "/api/tickets?page=2&page_size=1", alice, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "FO-1", list[0].DisplayNumber)

	status, env = s.do(t, http.MethodGet, "/api/me/tickets", bob, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].OwnerID)

	status, env = s.do(t, http.MethodPost, "/api/tickets", alice, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/tickets", alice, `{"department_code":"ZZ"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHealthEndpointsAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, status)

	status, env := s.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var snapshot observability.MetricsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.NotEmpty(t, snapshot.Requests)
}
