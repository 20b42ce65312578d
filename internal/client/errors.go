package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Category is the user-facing class of a failed request.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryUnauthorized Category = "unauthorized"
	CategoryNotFound     Category = "not_found"
	CategoryConflict     Category = "conflict"
	CategoryServer       Category = "server"
	CategoryUnknown      Category = "unknown"
)

// Error is returned for every failed API call. Error() is safe to show to
// end users; Detail keeps what the server or transport said.
type Error struct {
	Category   Category
	StatusCode int
	Code       string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Category {
	case CategoryNetwork:
		return "could not reach the generation service"
	case CategoryUnauthorized:
		return "not authorized; check your access token"
	case CategoryNotFound:
		return "not found"
	case CategoryConflict:
		if e.Detail != "" {
			return e.Detail
		}
		return "the request conflicts with the current state"
	case CategoryServer:
		return "the generation service had a problem; try again shortly"
	default:
		if e.Detail != "" {
			return e.Detail
		}
		return "request failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf returns the category of err, or CategoryUnknown.
func CategoryOf(err error) Category {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryUnknown
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Category: CategoryNetwork, Detail: err.Error(), Err: err}
}

func parseHTTPError(status int, raw []byte) *Error {
	e := &Error{StatusCode: status, Category: categoryForStatus(status)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		e.Code = env.Error.Code
		e.Detail = strings.TrimSpace(env.Error.Message)
		return e
	}
	e.Detail = strings.TrimSpace(string(raw))
	return e
}

func categoryForStatus(status int) Category {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryUnauthorized
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusConflict:
		return CategoryConflict
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}
