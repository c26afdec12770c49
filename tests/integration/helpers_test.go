//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavanga/importdesk/internal/domain"
	"github.com/kavanga/importdesk/internal/testutil"
)

// whapiGateway is an in-process stand-in for the WhatsApp gateway. It
// records every message it receives and can be told to fail upcoming
// requests with specific status codes.
type whapiGateway struct {
	mu       sync.Mutex
	server   *httptest.Server
	failWith []int
	messages []sentMessage
	seq      int
}

type sentMessage struct {
	To   string
	Body string
	Auth string
}

func newWhapiGateway() *whapiGateway {
	g := &whapiGateway{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/text", g.handleSend)
	g.server = httptest.NewServer(mux)
	return g
}

func (g *whapiGateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	_ = json.NewDecoder(r.Body).Decode(&msg)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.messages = append(g.messages, sentMessage{
		To:   msg.To,
		Body: msg.Body,
		Auth: r.Header.Get("Authorization"),
	})

	w.Header().Set("Content-Type", "application/json")

	if len(g.failWith) > 0 {
		status := g.failWith[0]
		g.failWith = g.failWith[1:]
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"sent":false,"error":{"message":"injected failure"}}`))
		return
	}

	g.seq++
	_, _ = fmt.Fprintf(w, `{"sent":true,"message":{"id":"wamid.test-%d"}}`, g.seq)
}

// FailNext makes the gateway answer the next request with the given status.
// Calls stack: FailNext(503); FailNext(503) fails the next two requests.
func (g *whapiGateway) FailNext(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = append(g.failWith, status)
}

// Messages returns a copy of everything received so far.
func (g *whapiGateway) Messages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sentMessage, len(g.messages))
	copy(out, g.messages)
	return out
}

func (g *whapiGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = nil
	g.messages = nil
}

func (g *whapiGateway) URL() string { return g.server.URL }

func (g *whapiGateway) Close() { g.server.Close() }

// resetState truncates all tables and clears the gateway between tests so
// idempotency keys from one test never collide with another.
func resetState(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`TRUNCATE notification_queue, notification_log, order_status_log CASCADE`)
	require.NoError(t, err)
	gateway.Reset()
}

// decodeData unwraps the {"data": ...} response envelope.
func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

type batchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type processResult struct {
	Results batchResult       `json:"results"`
	Stats   domain.QueueStats `json:"stats"`
}

// processQueue drains one batch through the scheduler endpoint.
func processQueue(t *testing.T) processResult {
	t.Helper()
	resp, err := testClient.WithAPIKey(workerKey).POST("/api/v1/notifications/process", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeData[processResult](t, resp)
}

// enqueueJob creates one pending job via the API and returns its id.
func enqueueJob(t *testing.T, body map[string]any) string {
	t.Helper()
	resp, err := testClient.POST("/api/v1/notifications", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := decodeData[map[string]string](t, resp)
	require.NotEmpty(t, data["job_id"])
	return data["job_id"]
}

// getJob fetches one job via the API.
func getJob(t *testing.T, id string) domain.NotificationJob {
	t.Helper()
	resp, err := testClient.GET("/api/v1/notifications/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeData[domain.NotificationJob](t, resp)
}

// getEvents fetches a job's audit trail via the API.
func getEvents(t *testing.T, id string) []domain.NotificationEvent {
	t.Helper()
	resp, err := testClient.GET("/api/v1/notifications/" + id + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeData[[]domain.NotificationEvent](t, resp)
}

func eventTypes(events []domain.NotificationEvent) []domain.NotificationEventType {
	types := make([]domain.NotificationEventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}
