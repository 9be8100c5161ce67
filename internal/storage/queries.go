package storage

import (
	"context"
)

const insertTransaction = `
INSERT INTO transactions (
    user_id, external_id, merchant_name, amount, currency, booking_date,
    description, creditor_name, debtor_name, raw_attributes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, external_id) DO NOTHING
`

type InsertTransactionParams struct {
	UserID        string
	ExternalID    string
	MerchantName  string
	Amount        string
	Currency      string
	BookingDate   string
	Description   string
	CreditorName  string
	DebtorName    string
	RawAttributes string
}

// InsertTransaction returns the number of rows inserted, 0 on a duplicate.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertTransaction,
		arg.UserID,
		arg.ExternalID,
		arg.MerchantName,
		arg.Amount,
		arg.Currency,
		arg.BookingDate,
		arg.Description,
		arg.CreditorName,
		arg.DebtorName,
		arg.RawAttributes,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listTransactionsByUser = `
SELECT id, user_id, external_id, merchant_name, amount, currency, booking_date,
       description, creditor_name, debtor_name, raw_attributes, created_at
FROM transactions
WHERE user_id = ?
ORDER BY booking_date, id
`

func (q *Queries) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		var i Transaction
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.ExternalID,
			&i.MerchantName,
			&i.Amount,
			&i.Currency,
			&i.BookingDate,
			&i.Description,
			&i.CreditorName,
			&i.DebtorName,
			&i.RawAttributes,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listUsers = `
SELECT DISTINCT user_id FROM transactions ORDER BY user_id
`

func (q *Queries) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		items = append(items, userID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertScanRun = `
INSERT INTO scan_runs (
    id, user_id, started_at, finished_at, transactions_seen, outgoing,
    incoming_dropped, skipped_malformed, groups_formed, groups_rejected
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertScanRun(ctx context.Context, arg ScanRun) error {
	_, err := q.db.ExecContext(ctx, insertScanRun,
		arg.ID,
		arg.UserID,
		arg.StartedAt,
		arg.FinishedAt,
		arg.TransactionsSeen,
		arg.Outgoing,
		arg.IncomingDropped,
		arg.SkippedMalformed,
		arg.GroupsFormed,
		arg.GroupsRejected,
	)
	return err
}

const getLatestScanRun = `
SELECT id, user_id, started_at, finished_at, transactions_seen, outgoing,
       incoming_dropped, skipped_malformed, groups_formed, groups_rejected
FROM scan_runs
WHERE user_id = ?
ORDER BY finished_at DESC, rowid DESC
LIMIT 1
`

func (q *Queries) GetLatestScanRun(ctx context.Context, userID string) (ScanRun, error) {
	row := q.db.QueryRowContext(ctx, getLatestScanRun, userID)
	var i ScanRun
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.StartedAt,
		&i.FinishedAt,
		&i.TransactionsSeen,
		&i.Outgoing,
		&i.IncomingDropped,
		&i.SkippedMalformed,
		&i.GroupsFormed,
		&i.GroupsRejected,
	)
	return i, err
}

const deleteSubscriptionsByUser = `
DELETE FROM subscriptions WHERE user_id = ?
`

func (q *Queries) DeleteSubscriptionsByUser(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, deleteSubscriptionsByUser, userID)
	return err
}

const insertSubscription = `
INSERT INTO subscriptions (
    user_id, scan_id, merchant_name, merchant_key, amount, currency, billing_cycle,
    confidence, last_charge_date, next_charge_date, transaction_count, average_interval_days
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertSubscriptionParams struct {
	UserID              string
	ScanID              string
	MerchantName        string
	MerchantKey         string
	Amount              string
	Currency            string
	BillingCycle        string
	Confidence          int64
	LastChargeDate      string
	NextChargeDate      string
	TransactionCount    int64
	AverageIntervalDays float64
}

func (q *Queries) InsertSubscription(ctx context.Context, arg InsertSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, insertSubscription,
		arg.UserID,
		arg.ScanID,
		arg.MerchantName,
		arg.MerchantKey,
		arg.Amount,
		arg.Currency,
		arg.BillingCycle,
		arg.Confidence,
		arg.LastChargeDate,
		arg.NextChargeDate,
		arg.TransactionCount,
		arg.AverageIntervalDays,
	)
	return err
}

const listSubscriptionsByUser = `
SELECT id, user_id, scan_id, merchant_name, merchant_key, amount, currency, billing_cycle,
       confidence, last_charge_date, next_charge_date, transaction_count, average_interval_days
FROM subscriptions
WHERE user_id = ?
ORDER BY id
`

func (q *Queries) ListSubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, listSubscriptionsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		var i Subscription
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.ScanID,
			&i.MerchantName,
			&i.MerchantKey,
			&i.Amount,
			&i.Currency,
			&i.BillingCycle,
			&i.Confidence,
			&i.LastChargeDate,
			&i.NextChargeDate,
			&i.TransactionCount,
			&i.AverageIntervalDays,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
