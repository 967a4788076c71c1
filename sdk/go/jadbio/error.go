// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// TransactionError is returned when the server responds with an HTTP
// status other than 200.
type TransactionError struct {
	Op         string
	Method     string
	URL        url.URL
	StatusCode int
	Status     string
	// Body is the (possibly truncated) response body.
	Body string
	// Message is the envelope message, if the body was a
	// JSON envelope.
	Message string
}

func (e *TransactionError) Error() string {
	s := fmt.Sprintf("%s: request failed: %s", e.Op, e.URL.String())
	if e.Status != "" {
		s += ": " + e.Status
	}
	if e.Message != "" {
		s += ": " + e.Message
	} else if e.Body != "" {
		s += ": " + e.Body
	}
	return s
}

// HTTPStatus returns the response status code.
func (e *TransactionError) HTTPStatus() int {
	return e.StatusCode
}

const maxErrorBody = 1024

func newTransactionError(op string, req *http.Request, resp *http.Response, buf []byte) *TransactionError {
	e := &TransactionError{
		Op:     op,
		Method: req.Method,
		URL:    *req.URL,
	}
	if resp != nil {
		e.Status = resp.Status
		e.StatusCode = resp.StatusCode
	}
	var env envelope
	if json.Unmarshal(buf, &env) == nil && env.Message != "" {
		e.Message = env.Message
	}
	body := strings.TrimSpace(string(buf))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	e.Body = body
	return e
}

// ResponseError is returned when the server responds 200 but the
// envelope status is not "success".
type ResponseError struct {
	Op      string
	Status  string
	Message string
	Code    string
}

func (e *ResponseError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "status " + e.Status
	}
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: %s, code: %s", e.Op, msg, e.Code)
}

// ValidationError is returned, without contacting the server, when
// an argument violates a documented constraint.
type ValidationError struct {
	Op    string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Field, e.Msg)
}

func validationErrorf(op, field, format string, args ...interface{}) error {
	return &ValidationError{Op: op, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err (or anything it wraps) is a
// TransactionError with status 404.
func IsNotFound(err error) bool {
	var te *TransactionError
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err (or anything it wraps) is a
// TransactionError with status 401 or 403.
func IsUnauthorized(err error) bool {
	var te *TransactionError
	return errors.As(err, &te) && (te.StatusCode == http.StatusUnauthorized || te.StatusCode == http.StatusForbidden)
}
