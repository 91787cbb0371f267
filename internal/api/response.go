// Package api provides JSON response writing for MindWatch handlers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackErrorResponse is served when a response value itself fails to
// marshal, so the client always gets valid JSON.
var fallbackErrorResponse = []byte(`{"status":"error","message":"Internal server error"}`)

// writeJSONResponse marshals response before touching the writer so an
// encoding failure can still change the status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		body = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", err)
	}
}
