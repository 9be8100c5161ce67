package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"subscan/internal/core"
	"subscan/internal/csvtx"
)

const maxBodyBytes = 5 << 20

var errNotArray = errors.New("request body must be a JSON array of transactions")

// transactionRequest is one transaction as posted by the retrieval side.
// Amount accepts a JSON number or a decimal string.
type transactionRequest struct {
	ID            string          `json:"id"`
	Date          string          `json:"date"`
	MerchantName  string          `json:"merchant_name"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	CreditorName  string          `json:"creditor_name"`
	DebtorName    string          `json:"debtor_name"`
	RawAttributes map[string]any  `json:"raw_attributes"`
}

// decodeTransactions reads a JSON array of transactions. Records with a
// missing amount or merchant are passed through for the engine to skip;
// a record without a readable date fails the whole request.
func decodeTransactions(r io.Reader) ([]core.Transaction, error) {
	var reqs []transactionRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&reqs); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body larger than %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("%w: %v", errNotArray, err)
	}
	if reqs == nil {
		return nil, errNotArray
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after array", errNotArray)
	}

	txs := make([]core.Transaction, 0, len(reqs))
	for i, req := range reqs {
		tx, err := req.toCore()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (req transactionRequest) toCore() (core.Transaction, error) {
	date := strings.TrimSpace(req.Date)
	if date == "" {
		return core.Transaction{}, fmt.Errorf("%w: date is required", core.ErrInvalidDate)
	}
	booked, err := csvtx.ParseDate(date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("%w: '%s'", core.ErrInvalidDate, date)
	}

	return core.Transaction{
		ID:            sanitizeInput(req.ID),
		MerchantName:  sanitizeInput(req.MerchantName),
		Amount:        req.Amount,
		Currency:      strings.ToUpper(sanitizeInput(req.Currency)),
		BookingDate:   booked,
		Description:   sanitizeInput(req.Description),
		CreditorName:  sanitizeInput(req.CreditorName),
		DebtorName:    sanitizeInput(req.DebtorName),
		RawAttributes: req.RawAttributes,
	}, nil
}
