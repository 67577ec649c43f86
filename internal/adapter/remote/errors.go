package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "liquidity_engine/pkg/errors"
	httpclient "liquidity_engine/pkg/http"
)

// rejection codes a venue or pool may return in the body of a 409
const (
	codeDeadline = "DEADLINE_EXPIRED"
	codeSlippage = "SLIPPAGE_EXCEEDED"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapRejection turns a 409 with a known code into the matching sentinel so callers
// can tell an expired deadline from a slippage failure
func mapRejection(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		return err
	}
	body := decodeErrorBody(apiErr.Body)
	switch body.Code {
	case codeDeadline:
		return fmt.Errorf("%w: %s", apperrors.ErrDeadlineExpired, body.Message)
	case codeSlippage:
		return fmt.Errorf("%w: %s", apperrors.ErrSlippageExceeded, body.Message)
	}
	return err
}

// mapLedgerRejection maps any 4xx from the ledger onto ErrLedgerRejected
func mapLedgerRejection(err error) error {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
		body := decodeErrorBody(apiErr.Body)
		return fmt.Errorf("%w: %s", apperrors.ErrLedgerRejected, body.Message)
	}
	return err
}

func decodeErrorBody(raw []byte) errorBody {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		body.Message = string(raw)
	}
	return body
}
