package conversation

import (
	"errors"
	"fmt"

	model "github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/validation"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("conversation is not active")
	ErrInvalidTurnOrder = errors.New("current speaker already produced the last message")
	ErrGenerationFailed = errors.New("failed to generate response")
	ErrTurnInProgress   = errors.New("a turn is already in progress for this conversation")
)

// Entity names what a NotFoundError failed to find.
type Entity string

const (
	EntityConversation Entity = "conversation"
	EntitySpeaker      Entity = "speaker"
	EntityPersona      Entity = "persona"
)

// NotFoundError matches ErrNotFound.
type NotFoundError struct {
	Entity Entity
	ID     int64
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Entity == EntitySpeaker && e.ID == 0:
		return "current speaker not set"
	case e.ID == 0:
		return fmt.Sprintf("%s not found", e.Entity)
	default:
		return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
	}
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ReasonNotActive is the only InvalidStateError reason the engine produces.
const ReasonNotActive = "not_active"

// InvalidStateError matches ErrInvalidState.
type InvalidStateError struct {
	Reason string
	Status model.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("conversation is not active (status=%s)", e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// GenerationError wraps the cause reported by the generation backend.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate response: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// Error codes shared by the HTTP layer and pkg/client.
const (
	CodeNotFound         = "not_found"
	CodeInvalidState     = "invalid_state"
	CodeInvalidTurnOrder = "invalid_turn_order"
	CodeGenerationFailed = "generation_failed"
	CodeTurnInProgress   = "turn_in_progress"
	CodeValidation       = "validation_failed"
	CodeInternal         = "internal"
)

// ErrorCode classifies err into one of the Code constants.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrInvalidTurnOrder):
		return CodeInvalidTurnOrder
	case errors.Is(err, ErrGenerationFailed):
		return CodeGenerationFailed
	case errors.Is(err, ErrTurnInProgress):
		return CodeTurnInProgress
	case errors.Is(err, validation.ErrInvalid):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// SentinelForCode maps a code back to its sentinel error, or nil.
func SentinelForCode(code string) error {
	switch code {
	case CodeNotFound:
		return ErrNotFound
	case CodeInvalidState:
		return ErrInvalidState
	case CodeInvalidTurnOrder:
		return ErrInvalidTurnOrder
	case CodeGenerationFailed:
		return ErrGenerationFailed
	case CodeTurnInProgress:
		return ErrTurnInProgress
	case CodeValidation:
		return validation.ErrInvalid
	default:
		return nil
	}
}
