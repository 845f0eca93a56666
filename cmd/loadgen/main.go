// Drive concurrent stakes at a running betting service and report latency,
// overload rejections, and the resulting board.
//
// Usage:
//
//	go run ./cmd/loadgen                          # 200 customers x 20 stakes on bet 1
//	go run ./cmd/loadgen -customers 5000 -rps 0   # unthrottled, to see 503s
//	go run ./cmd/loadgen -bets 10 -stakes 50
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/charleschow/betting-service/internal/adapters/outbound/betting_http"
	"github.com/charleschow/betting-service/internal/config"
)

type result struct {
	mu        sync.Mutex
	latencies []float64
	ok        atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

func (r *result) record(d time.Duration) {
	r.mu.Lock()
	r.latencies = append(r.latencies, float64(d.Microseconds())/1000)
	r.mu.Unlock()
}

func main() {
	cfg := config.Load()

	base := flag.String("url", fmt.Sprintf("http://localhost:%d", cfg.HTTPPort), "betting API base URL")
	customers := flag.Int("customers", 200, "number of simulated customers")
	stakes := flag.Int("stakes", 20, "stakes per customer")
	bets := flag.Int("bets", 1, "spread stakes over bet IDs 1..N")
	maxAmount := flag.Int("max", 10000, "largest stake amount")
	rps := flag.Int("rps", 0, "client-side requests per second limit (0 = unlimited)")
	flag.Parse()

	if *customers < 1 || *stakes < 1 || *bets < 1 || *maxAmount < 1 {
		fmt.Fprintln(os.Stderr, "customers, stakes, bets and max must be positive")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := betting_http.NewClient(*base, *rps)
	p := message.NewPrinter(language.English)

	fmt.Printf("\n%s\n", strings.Repeat("=", 55))
	p.Printf("  LOADGEN %s  customers=%d  stakes=%d  bets=%d\n", *base, *customers, *stakes, *bets)
	fmt.Printf("%s\n", strings.Repeat("=", 55))

	var res result
	var wg sync.WaitGroup
	start := time.Now()
	for i := range *customers {
		wg.Add(1)
		go func(customerID int) {
			defer wg.Done()
			for range *stakes {
				if ctx.Err() != nil {
					return
				}
				betID := 1 + rand.IntN(*bets)
				amount := 1 + rand.IntN(*maxAmount)

				t0 := time.Now()
				err := client.PlaceStake(ctx, betID, customerID, amount)
				switch {
				case err == nil:
					res.ok.Add(1)
					res.record(time.Since(t0))
				case errors.Is(err, betting_http.ErrUnavailable):
					res.rejected.Add(1)
				default:
					res.failed.Add(1)
					if res.failed.Load() <= 5 {
						fmt.Fprintf(os.Stderr, "  stake failed: %v\n", err)
					}
				}
			}
		}(i + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := res.ok.Load() + res.rejected.Load() + res.failed.Load()
	p.Printf("\n  Sent %d stakes in %s (%.0f/s)\n", total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	p.Printf("  ok=%d  rejected(503)=%d  failed=%d\n", res.ok.Load(), res.rejected.Load(), res.failed.Load())
	printStats(res.latencies, "Stake")

	for betID := 1; betID <= min(*bets, 3); betID++ {
		top, err := client.HighStakes(context.Background(), betID)
		if err != nil {
			fmt.Printf("\n  Bet %d highstakes FAILED: %v\n", betID, err)
			continue
		}
		fmt.Printf("\n  Bet %d top %d:\n", betID, len(top))
		for i, e := range top[:min(5, len(top))] {
			p.Printf("    %2d. customer %-8d %d\n", i+1, e.CustomerID, e.Amount)
		}
	}
	fmt.Println()
}

func printStats(latencies []float64, label string) {
	if len(latencies) < 2 {
		fmt.Printf("\n  Not enough %s samples for statistics.\n", label)
		return
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	mean := 0.0
	for _, v := range latencies {
		mean += v
	}
	mean /= float64(len(latencies))

	variance := 0.0
	for _, v := range latencies {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(latencies) - 1)
	stdev := math.Sqrt(variance)

	median := sorted[len(sorted)/2]
	p95Idx := min(int(float64(len(sorted))*0.95), len(sorted)-1)
	p99Idx := min(int(float64(len(sorted))*0.99), len(sorted)-1)

	fmt.Printf("\n  --- %s Stats (%d requests) ---\n", label, len(latencies))
	fmt.Printf("  Min:    %7.1f ms\n", sorted[0])
	fmt.Printf("  Max:    %7.1f ms\n", sorted[len(sorted)-1])
	fmt.Printf("  Mean:   %7.1f ms\n", mean)
	fmt.Printf("  Median: %7.1f ms\n", median)
	fmt.Printf("  Stdev:  %7.1f ms\n", stdev)
	fmt.Printf("  p95:    %7.1f ms\n", sorted[p95Idx])
	fmt.Printf("  p99:    %7.1f ms\n", sorted[p99Idx])
}
