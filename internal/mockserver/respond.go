package mockserver

import (
	"encoding/json"
	"net/http"
)

type listEnvelope[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func listOf[T any](items []T) listEnvelope[T] {
	if items == nil {
		items = []T{}
	}
	return listEnvelope[T]{Data: items, Count: len(items)}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes the backend's error envelope. An empty code is omitted.
func Error(w http.ResponseWriter, status int, code, detail string) {
	body := map[string]string{"detail": detail}
	if code != "" {
		body["code"] = code
	}
	JSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}
