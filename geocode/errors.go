// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrNoCandidate indica que el asistente respondió sin texto utilizable.
	ErrNoCandidate = errors.New("assistant response has no candidate text")
	// ErrInvalidCoordinates indica que el proveedor devolvió lat/lon no parseables.
	ErrInvalidCoordinates = errors.New("invalid coordinates in lookup candidate")
)

// GeocodingError representa errores específicos de geocodificación.
type GeocodingError struct {
	Type    ErrorType
	Message string
	// StatusCode es el código HTTP devuelto por el servicio, 0 si el error
	// ocurrió antes de obtener una respuesta.
	StatusCode int
	Err        error
}

// ErrorType define tipos de errores de geocodificación.
type ErrorType int

const (
	// ErrorTypeUnknown error desconocido.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit límite de tasa alcanzado.
	ErrorTypeRateLimit
	// ErrorTypeQuotaExceeded cuota excedida.
	ErrorTypeQuotaExceeded
	// ErrorTypeTimeout timeout de conexión.
	ErrorTypeTimeout
	// ErrorTypeNotFound ubicación no encontrada.
	ErrorTypeNotFound
	// ErrorTypeInvalidRequest request inválido.
	ErrorTypeInvalidRequest
	// ErrorTypeNetworkError error de red.
	ErrorTypeNetworkError
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnknown:        "unknown",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeQuotaExceeded:  "quota_exceeded",
	ErrorTypeTimeout:        "timeout",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeInvalidRequest: "invalid_request",
	ErrorTypeNetworkError:   "network_error",
}

func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("ErrorType(%d)", int(t))
}

func (e *GeocodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *GeocodingError) Unwrap() error {
	return e.Err
}

// IsHTTPStatus reports whether err carries a non-success HTTP status from a
// remote service, as opposed to a transport failure.
func IsHTTPStatus(err error) bool {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.StatusCode != 0
	}

	return false
}

// IsRateLimitError verifica si el error es por límite de tasa.
func IsRateLimitError(err error) bool {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.Type == ErrorTypeRateLimit
	}

	// Detectar por mensaje de error común
	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429")
}

// IsQuotaExceededError verifica si el error es por cuota excedida.
func IsQuotaExceededError(err error) bool {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.Type == ErrorTypeQuotaExceeded
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "quota exceeded")
}

// IsTimeoutError verifica si el error es por timeout.
func IsTimeoutError(err error) bool {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) && geoErr.Type == ErrorTypeTimeout {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// ClassifyHTTPError clasifica un error HTTP en un tipo de error de geocodificación.
func ClassifyHTTPError(statusCode int, body string) *GeocodingError {
	geoErr := &GeocodingError{StatusCode: statusCode}

	switch statusCode {
	case http.StatusTooManyRequests: // 429
		geoErr.Type = ErrorTypeRateLimit
		geoErr.Message = "límite de tasa alcanzado"
	case http.StatusForbidden: // 403
		geoErr.Type = ErrorTypeQuotaExceeded
		geoErr.Message = "cuota excedida o acceso denegado"
	case http.StatusBadRequest: // 400
		geoErr.Type = ErrorTypeInvalidRequest
		geoErr.Message = "request inválido"
	case http.StatusNotFound: // 404
		geoErr.Type = ErrorTypeNotFound
		geoErr.Message = "ubicación no encontrada"
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		geoErr.Type = ErrorTypeNetworkError
		geoErr.Message = fmt.Sprintf("servicio no disponible (código %d)", statusCode)
	default:
		geoErr.Type = ErrorTypeUnknown
		geoErr.Message = fmt.Sprintf("error HTTP %d", statusCode)
	}

	if body = strings.TrimSpace(body); body != "" {
		const maxBody = 200
		if len(body) > maxBody {
			body = body[:maxBody] + "…"
		}

		geoErr.Err = errors.New(body)
	}

	return geoErr
}

// classifyTransportError envuelve un error de red producido antes de
// recibir una respuesta HTTP.
func classifyTransportError(service string, err error) *GeocodingError {
	geoErr := &GeocodingError{
		Type:    ErrorTypeNetworkError,
		Message: service + " request failed",
		Err:     err,
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		geoErr.Type = ErrorTypeTimeout
	}

	return geoErr
}
