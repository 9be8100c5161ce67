// Package csvtx reads bank transaction exports in CSV form.
//
// The first line is a header. Known columns map onto core.Transaction fields;
// any other column is kept in RawAttributes under its header name, so
// aggregator type codes survive the import. Comma and semicolon delimiters are
// both accepted.
package csvtx

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"subscan/internal/core"
)

// Row is one parsed record. UserID is empty when the file has no user column.
type Row struct {
	Line   int
	UserID string
	Tx     core.Transaction
}

// Result holds the parsed rows and a message per rejected line.
type Result struct {
	Rows   []Row
	Errors []string
}

var ErrNoHeader = errors.New("csv has no header row")

var dateLayouts = []string{time.DateOnly, "02-01-2006", "02/01/2006", "2006/01/02", "20060102"}

// column aliases, lower-case
var columns = map[string]string{
	"user_id":        "user_id",
	"user":           "user_id",
	"id":             "id",
	"transaction_id": "id",
	"date":           "booking_date",
	"booking_date":   "booking_date",
	"merchant":       "merchant_name",
	"merchant_name":  "merchant_name",
	"amount":         "amount",
	"currency":       "currency",
	"description":    "description",
	"creditor":       "creditor_name",
	"creditor_name":  "creditor_name",
	"debtor":         "debtor_name",
	"debtor_name":    "debtor_name",
}

// Read parses a CSV export. Lines with an unparsable amount or date are
// reported in Result.Errors and skipped; only I/O and header problems fail.
// Empty amount or date cells are kept as zero values.
func Read(r io.Reader) (Result, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Result{}, fmt.Errorf("peek csv: %w", err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(first)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Result{}, ErrNoHeader
	}
	if err != nil {
		return Result{}, fmt.Errorf("read header: %w", err)
	}

	fields := make([]string, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if f, ok := columns[h]; ok {
			fields[i] = f
		} else {
			fields[i] = "raw:" + strings.TrimSpace(header[i])
		}
	}

	var res Result
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		line, _ := reader.FieldPos(0)
		if blank(record) {
			continue
		}
		row, err := parseRecord(fields, record)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		row.Line = line
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// ByUser groups rows by user id, keeping file order.
func (r Result) ByUser() map[string][]core.Transaction {
	out := make(map[string][]core.Transaction)
	for _, row := range r.Rows {
		out[row.UserID] = append(out[row.UserID], row.Tx)
	}
	return out
}

// Transactions returns every row's transaction regardless of user.
func (r Result) Transactions() []core.Transaction {
	out := make([]core.Transaction, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, row.Tx)
	}
	return out
}

func parseRecord(fields, record []string) (Row, error) {
	var row Row
	for i, v := range record {
		if i >= len(fields) {
			break
		}
		v = strings.TrimSpace(v)
		switch f := fields[i]; f {
		case "user_id":
			row.UserID = v
		case "id":
			row.Tx.ID = v
		case "booking_date":
			if v == "" {
				continue
			}
			d, err := ParseDate(v)
			if err != nil {
				return Row{}, err
			}
			row.Tx.BookingDate = d
		case "merchant_name":
			row.Tx.MerchantName = v
		case "amount":
			if v == "" {
				continue
			}
			a, err := core.ParseAmount(v)
			if err != nil && !isZero(v) {
				return Row{}, fmt.Errorf("invalid amount '%s'", v)
			}
			row.Tx.Amount = a
		case "currency":
			row.Tx.Currency = strings.ToUpper(v)
		case "description":
			row.Tx.Description = v
		case "creditor_name":
			row.Tx.CreditorName = v
		case "debtor_name":
			row.Tx.DebtorName = v
		default:
			if v == "" {
				continue
			}
			if row.Tx.RawAttributes == nil {
				row.Tx.RawAttributes = make(map[string]any)
			}
			row.Tx.RawAttributes[strings.TrimPrefix(f, "raw:")] = v
		}
	}
	return row, nil
}

// ParseDate accepts the date layouts common in bank exports.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date '%s'", s)
}

func sniffDelimiter(head []byte) rune {
	line := string(head)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

func isZero(s string) bool {
	return strings.Trim(s, "+-0.,") == ""
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
