package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

type ErrorKind int

const (
	KindMessage ErrorKind = iota
	KindPayload
)

const genericSetupMessage = "session setup failed"

// SetupError is returned by sessions whose setup failed. A KindPayload error
// carries the structured response body from the compute server; a
// KindMessage error carries plain text only.
type SetupError struct {
	Kind    ErrorKind
	Payload json.RawMessage
	Message string
	Err     error
}

func PayloadError(payload json.RawMessage, err error) *SetupError {
	return &SetupError{Kind: KindPayload, Payload: payload, Err: err}
}

func MessageError(msg string, err error) *SetupError {
	return &SetupError{Kind: KindMessage, Message: msg, Err: err}
}

func (e *SetupError) Error() string {
	switch e.Kind {
	case KindPayload:
		if len(e.Payload) > 0 {
			return "session setup: " + string(e.Payload)
		}
	case KindMessage:
		if e.Message != "" {
			return "session setup: " + e.Message
		}
	}
	if e.Err != nil {
		return "session setup: " + e.Err.Error()
	}
	return genericSetupMessage
}

func (e *SetupError) Unwrap() error { return e.Err }

// Describe renders err for the user, preferring a structured payload over a
// plain message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var se *SetupError
	if errors.As(err, &se) {
		switch se.Kind {
		case KindPayload:
			if len(se.Payload) > 0 {
				return compactJSON(se.Payload)
			}
		case KindMessage:
			if se.Message != "" {
				return se.Message
			}
		}
		if se.Err != nil {
			return se.Err.Error()
		}
		return genericSetupMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return genericSetupMessage
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
