// Command scan-file runs subscription detection over a CSV transaction export
// and prints what it finds. Nothing is stored.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"subscan/internal/cli"
	"subscan/internal/core"
	"subscan/internal/csvtx"
	"subscan/internal/detection"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type userReport struct {
	UserID        string                `json:"user_id"`
	Subscriptions []reportSubscription  `json:"subscriptions"`
	Rejections    []detection.Rejection `json:"rejections,omitempty"`
	Stats         core.ScanStats        `json:"stats"`
	MonthlyTotal  string                `json:"monthly_total"`
}

type reportSubscription struct {
	Merchant   string `json:"merchant"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Cycle      string `json:"cycle"`
	Confidence int    `json:"confidence"`
	LastCharge string `json:"last_charge"`
	NextCharge string `json:"next_charge"`
	Count      int    `json:"count"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scan-file", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rulesPath := fs.String("rules", "", "detection rules YAML (default: embedded rules)")
	onlyUser := fs.String("user", "", "scan only this user id")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	showRejected := fs.Bool("rejections", false, "also list merchant groups that were rejected")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: scan-file [options] <export.csv|->")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	engine, err := cli.NewEngine(*rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	in := stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	res, err := csvtx.Read(in)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read export: %v\n", err)
		return 1
	}
	for _, e := range res.Errors {
		fmt.Fprintf(stderr, "Skipped %s\n", e)
	}

	byUser := res.ByUser()
	users := make([]string, 0, len(byUser))
	for u := range byUser {
		if *onlyUser == "" || u == *onlyUser {
			users = append(users, u)
		}
	}
	slices.Sort(users)
	if len(users) == 0 {
		fmt.Fprintln(stderr, "No transactions to scan")
		return 1
	}

	reports := make([]userReport, 0, len(users))
	for _, u := range users {
		reports = append(reports, buildReport(u, engine.Scan(byUser[u]), *showRejected))
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	printReports(stdout, reports)
	return 0
}

func buildReport(userID string, rep detection.Report, withRejections bool) userReport {
	out := userReport{
		UserID:        userID,
		Subscriptions: make([]reportSubscription, 0, len(rep.Subscriptions)),
		Stats:         rep.Stats,
		MonthlyTotal:  core.Summarize(rep.Subscriptions).MonthlyTotal.StringFixed(2),
	}
	if withRejections {
		out.Rejections = rep.Rejections
	}
	for _, s := range rep.Subscriptions {
		out.Subscriptions = append(out.Subscriptions, reportSubscription{
			Merchant:   s.MerchantName,
			Amount:     s.Amount.StringFixed(2),
			Currency:   s.Currency,
			Cycle:      s.BillingCycle.String(),
			Confidence: s.Confidence,
			LastCharge: s.LastChargeDate.Format(time.DateOnly),
			NextCharge: s.NextChargeDate.Format(time.DateOnly),
			Count:      s.TransactionCount,
		})
	}
	return out
}

func printReports(w io.Writer, reports []userReport) {
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		user := r.UserID
		if user == "" {
			user = "(no user column)"
		}
		fmt.Fprintf(w, "User %s: %d subscription(s), %s per month; %d transactions, %d incoming dropped, %d malformed\n",
			user, len(r.Subscriptions), r.MonthlyTotal,
			r.Stats.TransactionsSeen, r.Stats.IncomingDropped, r.Stats.SkippedMalformed)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		if len(r.Subscriptions) > 0 {
			fmt.Fprintln(tw, "MERCHANT\tAMOUNT\tCYCLE\tCONFIDENCE\tLAST\tNEXT\tCOUNT")
			for _, s := range r.Subscriptions {
				fmt.Fprintf(tw, "%s\t%s %s\t%s\t%d\t%s\t%s\t%d\n",
					s.Merchant, s.Amount, s.Currency, s.Cycle, s.Confidence, s.LastCharge, s.NextCharge, s.Count)
			}
		}
		for _, rej := range r.Rejections {
			fmt.Fprintf(tw, "  rejected %s\t%s\t%s\n", rej.MerchantName, rej.Reason, rej.Detail)
		}
		_ = tw.Flush()
	}
}
