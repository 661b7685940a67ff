package httpx

import (
	"errors"
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"go.uber.org/zap"
)

type errorResp struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Kind    orders.Kind `json:"kind"`
	Code    string      `json:"code"`
	// Created lists the orders persisted before a partial failure.
	Created []string `json:"created,omitempty"`
}

var statusByKind = map[orders.Kind]int{
	orders.KindNotFound:          http.StatusNotFound,
	orders.KindValidation:        http.StatusBadRequest,
	orders.KindForbidden:         http.StatusForbidden,
	orders.KindConflict:          http.StatusConflict,
	orders.KindInsufficientStock: http.StatusConflict,
	orders.KindTooManyAttempts:   http.StatusTooManyRequests,
	orders.KindUpstream:          http.StatusBadGateway,
	orders.KindPartialFailure:    http.StatusInternalServerError,
	orders.KindInternal:          http.StatusInternalServerError,
}

func statusOf(k orders.Kind) int {
	if code, ok := statusByKind[k]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// writeError is the only place domain errors turn into responses.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var e *orders.Error
	if !errors.As(err, &e) {
		e = orders.Internal(err, "internal server error")
	}
	body := errorResp{Kind: e.Kind, Code: e.Code, Error: e.Message, Created: e.Created}
	if e.Kind == orders.KindInternal {
		// jangan bocorkan detail storage ke client
		body.Error = "internal server error"
		log.Error("request failed", zap.String("code", e.Code), zap.Error(err))
	}
	writeJSON(w, statusOf(e.Kind), body)
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Kind: orders.KindValidation, Code: code, Error: msg})
}
