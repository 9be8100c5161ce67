package storage

type Transaction struct {
	ID            int64
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
	CreatedAt     string
}

type ScanRun struct {
	ID               string
	UserID           string
	StartedAt        string
	FinishedAt       string
	TransactionsSeen int64
	Outgoing         int64
	IncomingDropped  int64
	SkippedMalformed int64
	GroupsFormed     int64
	GroupsRejected   int64
}

type Subscription struct {
	ID                  int64
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
