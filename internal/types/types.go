// Package types holds the wire-level DTOs shared across the dispatcher,
// engine, store and transport layers: command envelopes, events, and the
// error shape every component reports through.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode is one of the wire-level error kinds a command may fail with.
type ErrorCode string

const (
	ErrWrongPhase          ErrorCode = "WRONG_PHASE"
	ErrDeadPlayer          ErrorCode = "DEAD_PLAYER"
	ErrInvalidTarget       ErrorCode = "INVALID_TARGET"
	ErrAlreadySubmitted    ErrorCode = "ALREADY_SUBMITTED"
	ErrIdempotentDuplicate ErrorCode = "IDEMPOTENT_DUPLICATE"
	ErrRoomFull            ErrorCode = "ROOM_FULL"
	ErrRoomNotFound        ErrorCode = "ROOM_NOT_FOUND"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrInvalidName         ErrorCode = "INVALID_NAME"
	ErrInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError is the one shape every user-visible failure takes on its way
// back through the dispatcher to the client's `error` event.
type AppError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Err       error     `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func NewRetryableError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Retryable: true}
}

func WrapError(code ErrorCode, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, Err: err}
}

func Is(err error, code ErrorCode) bool {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code == code
	}
	return false
}

// CommandEnvelope is the decoded, authenticated client frame handed to the
// policy gate and the reducer.
type CommandEnvelope struct {
	CommandID      string          `json:"command_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	RoomID         string          `json:"room_id"`
	Type           string          `json:"type"`
	ActorPlayerID  string          `json:"actor_player_id"`
	Payload        json.RawMessage `json:"data"`
}

// Event is a committed fact produced by the reducer and appended to a
// room's event log.
type Event struct {
	RoomID            string          `json:"room_id"`
	Seq               int64           `json:"seq"`
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	ActorPlayerID     string          `json:"actor_player_id"`
	CausationCommand  string          `json:"causation_command_id"`
	Payload           json.RawMessage `json:"payload"`
	ServerTimestampMs int64           `json:"server_ts_ms"`
}

// CommandResult is returned synchronously to the command's originator.
type CommandResult struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// ProjectedEvent is an Event after redaction for a specific viewer.
type ProjectedEvent struct {
	RoomID        string          `json:"room_id"`
	Seq           int64           `json:"seq"`
	EventType     string          `json:"event_type"`
	ActorPlayerID string          `json:"actor_player_id,omitempty"`
	Data          json.RawMessage `json:"data"`
	ServerTS      int64           `json:"server_ts"`
}

// Viewer identifies whose eyes a redaction or projection is built for.
type Viewer struct {
	PlayerID string
}
