package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ResponseStatus is the transport-agnostic outcome of a command. HTTP
// adapters use HTTPStatus directly; the overlay adapter carries it as an
// equivalent status code.
type ResponseStatus struct {
	HTTPStatus int               `json:"httpStatus"`
	Error      string            `json:"error,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Response is what every handler execution reduces to: a status and an
// optional byte stream. Exactly one of a present Stream or a meaningful
// Status.Error drives transport behavior; HTTPStatus is always set.
type Response struct {
	Status ResponseStatus
	Stream io.Reader
}

// StreamResponse wraps an open stream in a 200 response.
func StreamResponse(stream io.Reader, headers map[string]string) *Response {
	return &Response{
		Status: ResponseStatus{HTTPStatus: http.StatusOK, Headers: headers},
		Stream: stream,
	}
}

// BytesResponse buffers small payloads into a 200 response.
func BytesResponse(data []byte, headers map[string]string) *Response {
	return StreamResponse(bytes.NewReader(data), headers)
}

// JSONResponse marshals v into a 200 application/json response.
func JSONResponse(v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResponse(http.StatusInternalServerError, "encoding response: %v", err)
	}
	return BytesResponse(data, map[string]string{"Content-Type": "application/json"})
}

// ErrorResponse builds a stream-less failure response.
func ErrorResponse(httpStatus int, format string, args ...any) *Response {
	return &Response{
		Status: ResponseStatus{HTTPStatus: httpStatus, Error: fmt.Sprintf(format, args...)},
	}
}
