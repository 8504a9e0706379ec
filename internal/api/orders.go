package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/api/middleware"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/pipeline"
)

// handleOrder accepts one order.
//
// Response codes:
//   - 200 OK: accepted (async mode) or stored (confirm mode)
//   - 400 Bad Request: malformed JSON or invalid fields
//   - 413 Request Entity Too Large: body over MAX_REQUEST_SIZE
//   - 415 Unsupported Media Type: Content-Type is not application/json
//   - 503 Service Unavailable: the bus rejected the publish
//   - 504 Gateway Timeout: no confirmation within the request timeout
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var payload orders.OrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorResponse(w, r, s.logger, RequestTooLarge("Request body exceeds the size limit"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Request body is not a valid order: "+err.Error()))

		return
	}

	receipt, err := s.deps.Orders.Submit(r.Context(), payload)
	if err != nil {
		problem := submitProblem(err)

		level := slog.LevelWarn
		if problem.Status >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		s.logger.Log(r.Context(), level, "Order rejected",
			slog.String("correlation_id", correlationID),
			slog.String("location", payload.Location),
			slog.Int("status", problem.Status),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	s.logger.Debug("Order accepted",
		slog.String("correlation_id", correlationID),
		slog.String("location", payload.Location),
		slog.Int("partition", receipt.Partition),
	)

	s.writeJSON(w, r, http.StatusOK, receipt)
}

func submitProblem(err error) *ProblemDetail {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		return BadRequest(err.Error())
	case errors.Is(err, pipeline.ErrWriteTimeout):
		return GatewayTimeout("The order was not confirmed in time; it may still be stored")
	case errors.Is(err, pipeline.ErrPublishFailed):
		return ServiceUnavailable("The order pipeline is unavailable")
	default:
		return InternalServerError("The order could not be stored")
	}
}

// handleRecords lists the orders of one location and day.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Orders.Records(r.Context(), orderQuery(r))
	if err != nil {
		s.writeQueryError(w, r, err)

		return
	}

	if records == nil {
		records = []orders.StoredOrder{}
	}

	s.writeJSON(w, r, http.StatusOK, records)
}

// handleReport aggregates the orders of one location and day.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Orders.Report(r.Context(), orderQuery(r))
	if err != nil {
		s.writeQueryError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, report)
}

func orderQuery(r *http.Request) orders.OrderQuery {
	params := r.URL.Query()

	return orders.OrderQuery{
		Location: params.Get("location"),
		Date:     params.Get("date"),
	}
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, orders.ErrInvalidQuery) {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	s.logger.Error("Order query failed",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger, InternalServerError("The query could not be completed"))
}
