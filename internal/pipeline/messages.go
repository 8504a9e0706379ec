package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

const (
	ReplyCodeInvalidQuery = "invalid_query"
	ReplyCodeQueryFailed  = "query_failed"
)

type (
	// QueryReply is the query responders' answer. Records is [] for a day without orders.
	// Code classifies a failed query as ReplyCodeInvalidQuery or ReplyCodeQueryFailed.
	QueryReply struct {
		Records []orders.StoredOrder `json:"records"`
		Error   string               `json:"error,omitempty"`
		Code    string               `json:"code,omitempty"`
	}

	// WriteConfirmation is published to an order's reply subject once it is stored, or
	// once it has been given up on.
	WriteConfirmation struct {
		Order *orders.StoredOrder `json:"order,omitempty"`
		Error string              `json:"error,omitempty"`
	}

	// DeadLetter wraps a message a stage gave up on.
	DeadLetter struct {
		Stage     string          `json:"stage"`
		Partition int             `json:"partition"`
		Subject   string          `json:"subject"`
		Error     string          `json:"error"`
		Payload   json.RawMessage `json:"payload"`
	}
)

func queryErrorReply(err error) QueryReply {
	code := ReplyCodeQueryFailed
	if errors.Is(err, orders.ErrInvalidQuery) {
		code = ReplyCodeInvalidQuery
	}

	return QueryReply{Error: err.Error(), Code: code}
}

// err maps a failed reply back onto the orders sentinels.
func (r QueryReply) err() error {
	if r.Error == "" {
		return nil
	}

	if r.Code == ReplyCodeInvalidQuery {
		return fmt.Errorf("%w: %s", orders.ErrInvalidQuery, r.Error)
	}

	return fmt.Errorf("%w: %s", orders.ErrQueryFailed, r.Error)
}
