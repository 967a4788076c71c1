// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
)

// Envelope is the JSON wrapper used by every JADBio API response.
type Envelope struct {
	Status  string      `json:"status"`
	Payload interface{} `json:"payload,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// WritePayload writes a 200 response with a "success" envelope
// around payload.
func WritePayload(w http.ResponseWriter, payload interface{}) {
	writeJSON(w, http.StatusOK, Envelope{Status: "success", Payload: payload})
}

// Error writes an error envelope with the given HTTP status.
//
// A JADBio server reports application errors (bad arguments, unknown
// ids) with HTTP status 200 and an "error" envelope; use status 200
// for those and a 4xx/5xx status for transport-level failures.
func Error(w http.ResponseWriter, message string, code string, status int) {
	writeJSON(w, status, Envelope{Status: "error", Message: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
