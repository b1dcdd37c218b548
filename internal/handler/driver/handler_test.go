package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/service/ai"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	driverservice "github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/internal/store"
)

func setupRouter(t *testing.T, gen ai.Generator) (*chi.Mux, *driverservice.Driver, *convservice.Service) {
	t.Helper()
	st := store.NewMemoryStore()
	for _, in := range persona.Seed() {
		if _, err := st.CreatePersona(context.Background(), in); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := convservice.NewService(st, convservice.NewEngine(st, gen), nil)
	recorder := driverservice.NewRecorder(10)
	d := driverservice.New(svc, svc, recorder, driverservice.Config{TurnDelay: time.Millisecond})

	r := chi.NewRouter()
	New(context.Background(), d, recorder, 5, nil).RegisterRoutes(r)
	return r, d, svc
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func waitIdle(t *testing.T, d *driverservice.Driver) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("driver did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunCompletesConversation(t *testing.T) {
	gen := ai.GeneratorFunc(func(_ context.Context, req ai.Request) (string, error) {
		return "offer from " + req.Speaker.Name, nil
	})
	r, d, svc := setupRouter(t, gen)
	speaker := int64(1)
	conv, err := svc.Create(context.Background(), conversation.CreateInput{CurrentSpeakerID: &speaker, MaxTurns: 3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp := post(r, "/conversations/current/run", `{"turns": 10}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	waitIdle(t, d)

	final, err := svc.Lookup(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if final.Conversation.Status != conversation.StatusCompleted || len(final.Messages) != 3 {
		t.Fatalf("unexpected final state %+v", final.Conversation)
	}

	statusResp := httptest.NewRecorder()
	r.ServeHTTP(statusResp, httptest.NewRequest(http.MethodGet, "/driver", nil))
	var status StatusResponse
	if err := json.NewDecoder(statusResp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Running {
		t.Fatal("expected driver idle")
	}
	if len(status.Notifications) != 1 || status.Notifications[0].Message != "Conversation completed successfully" {
		t.Fatalf("unexpected notifications %+v", status.Notifications)
	}
}

func TestRunRejectsSecondRun(t *testing.T) {
	release := make(chan struct{})
	gen := ai.GeneratorFunc(func(ctx context.Context, _ ai.Request) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "slow reply", nil
	})
	r, d, svc := setupRouter(t, gen)
	speaker := int64(1)
	if _, err := svc.Create(context.Background(), conversation.CreateInput{CurrentSpeakerID: &speaker}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if resp := post(r, "/conversations/current/run", `{"turns": 1}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if resp := post(r, "/conversations/current/run", `{"turns": 1}`); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	close(release)
	waitIdle(t, d)
}

func TestRunValidatesTurns(t *testing.T) {
	r, _, _ := setupRouter(t, ai.GeneratorFunc(func(context.Context, ai.Request) (string, error) { return "x", nil }))
	if resp := post(r, "/conversations/current/run", `{"turns": 101}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := post(r, "/conversations/current/run", `not json`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
