package services

import (
	"errors"
	"fmt"
)

// Callers classify failures with errors.Is against these two.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

func validationError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

func notFoundError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrNotFound)
}

// Task errors
var (
	ErrTaskNotFound          = notFoundError("task")
	ErrTaskInvalidInput      = validationError("task: invalid input")
	ErrTaskAlreadyExists     = validationError("task: already exists")
	ErrTaskInvalidProgress   = validationError("task: progress must be within [0, 100]")
	ErrTaskInvalidStatus     = validationError("task: invalid status")
	ErrTaskInvalidTransition = validationError("task: status transition not allowed")
	ErrTaskTerminal          = validationError("task: task already finished")
)

// Notification errors
var (
	ErrNotificationNotFound     = notFoundError("notification")
	ErrNotificationInvalidInput = validationError("notification: invalid input")
)

// Rule errors
var (
	ErrRuleNotFound = notFoundError("rule")
	ErrRuleInvalid  = validationError("rule: invalid definition")
)

// Event bus errors
var (
	ErrHandlerCapacity = validationError("events: handler capacity exceeded")
	ErrHandlerInvalid  = validationError("events: invalid handler")
)
