// Package google mirrors detected subscriptions into a Google Sheets tab.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"subscan/internal/core"
	"subscan/internal/ports"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	// one read-modify-write of the tab at a time
	mu sync.Mutex
}

var _ ports.SubscriptionMirror = (*Client)(nil)

// Config selects the spreadsheet and how to authenticate against it
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	CredentialsJSON string

	// Options replace the credential options entirely; used to point the
	// client at a different endpoint.
	Options []goption.ClientOption
}

// New creates a mirror client authenticated with a service account
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Subscriptions"
	}

	opts := cfg.Options
	if len(opts) == 0 {
		var err error
		if opts, err = credentialOptions(cfg); err != nil {
			return nil, err
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets mirror initialized",
		"component", "sheets",
		"spreadsheet_id", spreadsheetID,
		"sheet", sheetName)

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

func credentialOptions(cfg Config) ([]goption.ClientOption, error) {
	opts := []goption.ClientOption{
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()),
	}
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return append(opts, goption.WithCredentialsJSON([]byte(cfg.CredentialsJSON))), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		return append(opts, goption.WithCredentialsFile(cfg.CredentialsFile)), nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
	}
}

// newHTTPClientWithPooling keeps connections to the Sheets API alive between mirrors
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// MirrorSubscriptions replaces the rows of userID in the tab with subs. Rows
// of other users are kept.
func (c *Client) MirrorSubscriptions(ctx context.Context, userID string, subs []core.DetectedSubscription) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.ErrEmptyUserID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}

	fresh := make([][]any, 0, len(subs))
	for _, s := range subs {
		fresh = append(fresh, subscriptionRow(userID, s))
	}
	rows := mergeRows(resp.Values, userID, fresh)

	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}

	target := fmt.Sprintf("%s!A1:%s%d", c.sheetName, lastColumn, len(rows))
	vr := &gsheet.ValueRange{Values: rows}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, target, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", target, err)
	}

	slog.InfoContext(ctx, "Mirrored subscriptions to Google Sheets",
		"component", "sheets",
		"user_id", userID,
		"subscriptions", len(subs),
		"rows", len(rows)-1)
	return nil
}
