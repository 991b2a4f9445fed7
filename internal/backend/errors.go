package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NetworkMessage is shown whenever no response could be obtained.
const NetworkMessage = "Erreur réseau"

var (
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrNotFound     = errors.New("backend: not found")
	ErrTransport    = errors.New("backend: no response")
	ErrNoSession    = errors.New("backend: login response carried no session cookie")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: HTTP %d", e.Status)
	}
	return fmt.Sprintf("backend: HTTP %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// errorBody accepts both `"message": "..."` and the list form emitted by
// request validators (`"message": ["...", "..."]`).
type errorBody struct {
	Message json.RawMessage `json:"message"`
}

func parseAPIError(status int, raw []byte) *APIError {
	out := &APIError{Status: status}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Message) == 0 {
		return out
	}
	var single string
	if err := json.Unmarshal(body.Message, &single); err == nil {
		out.Message = strings.TrimSpace(single)
		return out
	}
	var many []string
	if err := json.Unmarshal(body.Message, &many); err == nil {
		out.Message = strings.TrimSpace(strings.Join(many, ", "))
	}
	return out
}

// Message picks the text shown to the user for err: the server message when
// there is one, NetworkMessage when nothing came back, fallback otherwise.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTransport) {
		return NetworkMessage
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
