package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/service/ai"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/store"
)

type fakeRuns bool

func (f fakeRuns) Running() bool { return bool(f) }

func setupRouter(t *testing.T, gen ai.Generator, runs RunState) (*chi.Mux, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	for _, in := range persona.Seed() {
		if _, err := st.CreatePersona(context.Background(), in); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := convservice.NewService(st, convservice.NewEngine(st, gen), nil)
	r := chi.NewRouter()
	New(svc, runs, nil).RegisterRoutes(r)
	return r, st
}

func echoGenerator() ai.Generator {
	return ai.GeneratorFunc(func(_ context.Context, req ai.Request) (string, error) {
		return req.Speaker.Name + " replies", nil
	})
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	if body == nil {
		payload = nil
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func create(t *testing.T, r http.Handler, maxTurns int) model.Conversation {
	t.Helper()
	resp := do(r, http.MethodPost, "/conversations", map[string]any{"currentSpeakerId": 1, "maxTurns": maxTurns})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var conv model.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return conv
}

func TestCurrentWithoutConversation(t *testing.T) {
	r, _ := setupRouter(t, echoGenerator(), nil)
	resp := do(r, http.MethodGet, "/conversations/current", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["conversation"]) != "null" {
		t.Fatalf("expected null conversation, got %s", raw["conversation"])
	}
	if string(raw["messages"]) != "[]" {
		t.Fatalf("expected empty messages, got %s", raw["messages"])
	}
}

func TestCreateValidation(t *testing.T) {
	r, _ := setupRouter(t, echoGenerator(), nil)

	if resp := do(r, http.MethodPost, "/conversations", map[string]any{"maxTurns": 3}); resp.Code != http.StatusBadRequest {
		t.Fatalf("missing speaker: expected 400, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/conversations", map[string]any{"currentSpeakerId": 1, "maxTurns": 500}); resp.Code != http.StatusBadRequest {
		t.Fatalf("max turns: expected 400, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/conversations", map[string]any{"currentSpeakerId": 9}); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown speaker: expected 404, got %d", resp.Code)
	}
}

func TestNextAdvancesUntilCompleted(t *testing.T) {
	r, _ := setupRouter(t, echoGenerator(), nil)
	conv := create(t, r, 2)
	path := "/conversations/" + itoa(conv.ID) + "/next"

	for i := 0; i < 2; i++ {
		resp := do(r, http.MethodPost, path, nil)
		if resp.Code != http.StatusOK {
			t.Fatalf("turn %d: expected 200, got %d: %s", i+1, resp.Code, resp.Body.String())
		}
	}

	resp := do(r, http.MethodPost, path, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 after completion, got %d", resp.Code)
	}

	resp = do(r, http.MethodGet, "/conversations/"+itoa(conv.ID), nil)
	var snap model.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Conversation.Status != model.StatusCompleted || len(snap.Messages) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestNextGenerationFailureIsBadGateway(t *testing.T) {
	failing := ai.GeneratorFunc(func(context.Context, ai.Request) (string, error) {
		return "", errors.New("provider timeout")
	})
	r, st := setupRouter(t, failing, nil)
	conv := create(t, r, 4)

	resp := do(r, http.MethodPost, "/conversations/"+itoa(conv.ID)+"/next", nil)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	messages, _ := st.GetMessagesByConversation(context.Background(), conv.ID)
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
}

func TestNextRejectedWhileRunning(t *testing.T) {
	r, _ := setupRouter(t, echoGenerator(), fakeRuns(true))
	conv := create(t, r, 4)

	resp := do(r, http.MethodPost, "/conversations/"+itoa(conv.ID)+"/next", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestNextUnknownConversation(t *testing.T) {
	r, _ := setupRouter(t, echoGenerator(), nil)
	if resp := do(r, http.MethodPost, "/conversations/77/next", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestClearConversations(t *testing.T) {
	r, st := setupRouter(t, echoGenerator(), nil)
	create(t, r, 4)

	if resp := do(r, http.MethodDelete, "/conversations", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	items, _ := st.ListConversations(context.Background())
	if len(items) != 0 {
		t.Fatalf("expected no conversations, got %d", len(items))
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
