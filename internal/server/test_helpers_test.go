package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
	"github.com/MarcoPoloResearchLab/canvas/internal/database"
	"github.com/MarcoPoloResearchLab/canvas/internal/queue"
	"github.com/MarcoPoloResearchLab/canvas/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const readTimeout = 5 * time.Second

// tokenVerifier accepts credentials of the form "token:<user id>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyCredential(_ context.Context, token string) (users.Principal, error) {
	userID, ok := strings.CutPrefix(token, "token:")
	if !ok || userID == "" {
		return users.Principal{}, errors.New("unknown credential")
	}
	return users.Principal{UserID: userID, DisplayName: strings.ToUpper(userID[:1]) + userID[1:]}, nil
}

type testServer struct {
	httpServer *httptest.Server
	supervisor *Supervisor
	registry   *collab.Registry
	router     *Router
	metrics    *Metrics
	queue      queue.Store
}

type serverOptions struct {
	authTimeout time.Duration
	sendBuffer  int
}

func newTestServer(t *testing.T, options serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "canvas.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	documents, err := canvas.NewGormRepository(db)
	if err != nil {
		t.Fatalf("failed to build document repository: %v", err)
	}
	store, err := canvas.NewStore(canvas.StoreConfig{
		Repository:   documents,
		IDProvider:   canvas.NewUUIDProvider(),
		HistoryLimit: 50,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	collaborations, err := collab.NewGormRepository(db)
	if err != nil {
		t.Fatalf("failed to build collaboration repository: %v", err)
	}

	metrics := &Metrics{}
	offline := queue.NewMemory()
	router, err := NewRouter(RouterConfig{Queue: offline, Metrics: metrics})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	registry, err := collab.NewRegistry(collab.RegistryConfig{
		Store:       store,
		Repository:  collaborations,
		Broadcaster: router,
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	authTimeout := options.authTimeout
	if authTimeout == 0 {
		authTimeout = 2 * time.Second
	}
	supervisor, err := NewSupervisor(SupervisorConfig{
		Verifier:          tokenVerifier{},
		Registry:          registry,
		Router:            router,
		Metrics:           metrics,
		AuthTimeout:       authTimeout,
		HeartbeatInterval: time.Hour,
		WriteTimeout:      2 * time.Second,
		SendBuffer:        options.sendBuffer,
	})
	if err != nil {
		t.Fatalf("failed to build supervisor: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Verifier:   tokenVerifier{},
		Documents:  registry,
		Supervisor: supervisor,
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	httpServer := httptest.NewServer(handler)
	t.Cleanup(func() {
		supervisor.Shutdown(context.Background())
		httpServer.Close()
		registry.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testServer{
		httpServer: httpServer,
		supervisor: supervisor,
		registry:   registry,
		router:     router,
		metrics:    metrics,
		queue:      offline,
	}
}

type testClient struct {
	t      *testing.T
	socket *websocket.Conn
	nextID int
}

func (s *testServer) dial(t *testing.T) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
	socket, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	t.Cleanup(func() {
		_ = socket.Close()
	})
	return &testClient{t: t, socket: socket}
}

// connect dials and authenticates as userID, returning the authenticated payload.
func (s *testServer) connect(t *testing.T, userID string) (*testClient, authenticatedPayload) {
	t.Helper()
	client := s.dial(t)
	client.send(TypeAuth, "", "", authPayload{Credential: "token:" + userID})
	frame := client.read()
	if frame.Type != TypeAuthenticated {
		t.Fatalf("expected authenticated frame, got %s: %s", frame.Type, string(frame.Payload))
	}
	var payload authenticatedPayload
	decodeInto(t, frame.Payload, &payload)
	return client, payload
}

func (c *testClient) send(messageType, action, roomID string, payload any) string {
	c.t.Helper()
	c.nextID++
	requestID := fmt.Sprintf("%s-%d", messageType, c.nextID)
	envelope := map[string]any{
		"type":      messageType,
		"roomId":    roomID,
		"requestId": requestID,
		"timestamp": time.Now().UnixMilli(),
	}
	if action != "" {
		envelope["action"] = action
	}
	if payload != nil {
		envelope["payload"] = payload
	}
	if err := c.socket.WriteJSON(envelope); err != nil {
		c.t.Fatalf("failed to write frame: %v", err)
	}
	return requestID
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()
	if err := c.socket.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.t.Fatalf("failed to write raw frame: %v", err)
	}
}

func (c *testClient) read() Envelope {
	c.t.Helper()
	_ = c.socket.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := c.socket.ReadMessage()
	if err != nil {
		c.t.Fatalf("failed to read frame: %v", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.t.Fatalf("failed to decode frame %q: %v", string(data), err)
	}
	return envelope
}

// readType skips frames until one of the given type arrives.
func (c *testClient) readType(messageType string) Envelope {
	c.t.Helper()
	for {
		frame := c.read()
		if frame.Type == messageType {
			return frame
		}
	}
}

// readReply skips frames until the ack or error answering requestID arrives.
func (c *testClient) readReply(requestID string) Envelope {
	c.t.Helper()
	for {
		frame := c.read()
		if (frame.Type == TypeAck || frame.Type == TypeError) && frame.RequestID == requestID {
			return frame
		}
	}
}

func (c *testClient) expectAck(requestID string) ackPayload {
	c.t.Helper()
	frame := c.readReply(requestID)
	if frame.Type != TypeAck {
		c.t.Fatalf("expected ack for %s, got %s: %s", requestID, frame.Type, string(frame.Payload))
	}
	var payload ackPayload
	decodeInto(c.t, frame.Payload, &payload)
	return payload
}

func (c *testClient) expectError(requestID string) errorPayload {
	c.t.Helper()
	frame := c.readReply(requestID)
	if frame.Type != TypeError {
		c.t.Fatalf("expected error for %s, got %s: %s", requestID, frame.Type, string(frame.Payload))
	}
	var payload errorPayload
	decodeInto(c.t, frame.Payload, &payload)
	return payload
}

func (c *testClient) join(roomID string) ackPayload {
	c.t.Helper()
	return c.expectAck(c.send(TypeJoin, "", roomID, nil))
}

func decodeInto(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to decode payload %q: %v", string(data), err)
	}
}

// eventually polls condition until it holds or the deadline passes.
func eventually(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", description)
}

func (s *testServer) participantIDs(t *testing.T, roomID string) []string {
	t.Helper()
	participants, err := s.registry.Participants(context.Background(), roomID)
	if err != nil {
		if errors.Is(err, collab.ErrRoomNotFound) {
			return nil
		}
		t.Fatalf("failed to list participants: %v", err)
	}
	ids := make([]string, 0, len(participants))
	for _, participant := range participants {
		ids = append(ids, participant.UserID)
	}
	return ids
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func rectangleDraft() map[string]any {
	return map[string]any{
		"type":     "rectangle",
		"position": map[string]float64{"x": 10, "y": 20},
		"size":     map[string]float64{"width": 100, "height": 50},
	}
}

func (s *testServer) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, s.httpServer.URL+path, http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	return response
}
