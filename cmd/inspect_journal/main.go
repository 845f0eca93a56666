package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charleschow/betting-service/internal/adapters/outbound/journal"
	"github.com/charleschow/betting-service/internal/config"
)

func main() {
	cfg := config.Load()

	path := flag.String("db", cfg.JournalPath, "stake journal database")
	n := flag.Int("n", 20, "number of recent rows to display")
	bet := flag.Int("bet", -1, "only show stakes for this bet ID")
	summary := flag.Bool("summary", false, "show per-bet totals instead of rows")
	flag.Parse()

	r, err := journal.OpenReader(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open journal: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	if *summary {
		printSummaries(r, *n)
		return
	}
	printRows(r, *bet, *n)
}

func printRows(r *journal.Reader, bet, n int) {
	if bet >= 0 {
		fmt.Printf("=== Stake Journal (bet %d) ===\n", bet)
	} else {
		fmt.Println("=== Stake Journal ===")
	}

	rows, err := r.Recent(bet, n)
	if err != nil {
		fmt.Printf("  (query failed: %v)\n", err)
		return
	}
	if len(rows) == 0 {
		fmt.Println("(no data)")
		return
	}

	fmt.Printf("Showing last %d:\n", len(rows))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "id\tbet\tcustomer\tamount\tnew_max\trecorded")
	for _, row := range rows {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%t\t%s\n",
			row.ID, row.BetID, row.CustomerID, row.Amount, row.NewMax,
			row.Recorded.Local().Format("2006-01-02 15:04:05.000"))
	}
	w.Flush()
}

func printSummaries(r *journal.Reader, n int) {
	fmt.Println("=== Stake Journal by bet ===")

	sums, err := r.Summaries(n)
	if err != nil {
		fmt.Printf("  (query failed: %v)\n", err)
		return
	}
	if len(sums) == 0 {
		fmt.Println("(no data)")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "bet\tstakes\tcustomers\tmax_amount")
	for _, s := range sums {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", s.BetID, s.Stakes, s.Customers, s.MaxAmount)
	}
	w.Flush()
}
