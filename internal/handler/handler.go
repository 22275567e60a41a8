// Package handler adapts the pipelines to AWS Lambda invocations.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"dailyprices/internal/domain"
	"dailyprices/internal/pipeline"
)

// Runner is the part of *pipeline.Pipeline the handlers call.
type Runner interface {
	Copy(ctx context.Context, instrument string) (pipeline.CopyResult, error)
	AggregateDaily(ctx context.Context, req domain.Request) (pipeline.DailyResult, error)
}

var _ Runner = (*pipeline.Pipeline)(nil)

// CopyEvent is the direct-invocation payload of the copy function.
type CopyEvent struct {
	Instrument string `json:"instrument"`
}

// ErrorBody is the JSON body of a failed API Gateway response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handlers holds the Lambda entry points.
type Handlers struct {
	runner Runner
	log    *slog.Logger
}

// New creates Handlers backed by r.
func New(r Runner, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{runner: r, log: logger}
}

// Copy copies the event's instrument into the multiple-prices table. Errors
// are returned to the Lambda runtime unchanged.
func (h *Handlers) Copy(ctx context.Context, ev CopyEvent) (pipeline.CopyResult, error) {
	return h.runner.Copy(ctx, strings.TrimSpace(ev.Instrument))
}

// DailyPrices handles an API Gateway POST whose body is a request payload
// and runs the daily aggregation for it.
func (h *Handlers) DailyPrices(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return errorResponse(http.StatusBadRequest, "bad_request", "body is not valid base64"), nil
		}
		body = string(decoded)
	}

	var payload domain.Request
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}

	res, err := h.runner.AggregateDaily(ctx, payload)
	switch {
	case err == nil:
		return jsonResponse(http.StatusOK, res), nil
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return errorResponse(http.StatusBadRequest, "invalid_request", err.Error()), nil
	case errors.Is(err, pipeline.ErrRetrieval):
		return errorResponse(http.StatusInternalServerError, "retrieval_failed", pipeline.ErrRetrieval.Error()), nil
	default:
		h.log.Error("daily prices failed", "instrument", payload.Instrument, "error", err)
		return errorResponse(http.StatusInternalServerError, "internal_error", "internal error"), nil
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "error", err)
		return errorResponse(http.StatusInternalServerError, "internal_error", "internal error")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}

func errorResponse(status int, code, msg string) events.APIGatewayProxyResponse {
	data, _ := json.Marshal(ErrorBody{Code: code, Message: msg})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}
