package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/z-parley/backend/internal/model/validation"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/internal/store"
	"github.com/zhouzirui/z-parley/backend/pkg/utils"
)

func TestRespondStatusMapping(t *testing.T) {
	verr := &validation.Error{}
	verr.Add("name", "is required")

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&convservice.NotFoundError{Entity: convservice.EntityConversation, ID: 3}, http.StatusNotFound, "not_found"},
		{store.ErrNotFound, http.StatusNotFound, "not_found"},
		{&convservice.InvalidStateError{Reason: convservice.ReasonNotActive}, http.StatusConflict, "invalid_state"},
		{convservice.ErrInvalidTurnOrder, http.StatusConflict, "invalid_turn_order"},
		{convservice.ErrTurnInProgress, http.StatusConflict, "turn_in_progress"},
		{driver.ErrAlreadyRunning, http.StatusConflict, "already_running"},
		{verr, http.StatusBadRequest, "validation_failed"},
		{&convservice.GenerationError{Cause: errors.New("quota")}, http.StatusBadGateway, "generation_failed"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		Respond(rec, nil, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body utils.ErrorBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Code != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, body.Code)
		}
	}
}

func TestRespondHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Respond(rec, nil, errors.New("pq: password authentication failed"))

	var body utils.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal server error" {
		t.Fatalf("leaked internal error: %q", body.Error)
	}
}

func TestRespondIncludesValidationFields(t *testing.T) {
	verr := &validation.Error{}
	verr.Add("maxTurns", "must be between 1 and 100")

	rec := httptest.NewRecorder()
	Respond(rec, nil, verr)

	var body utils.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Fields["maxTurns"] == "" {
		t.Fatalf("expected field error, got %+v", body)
	}
}
