package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charleschow/betting-service/internal/config"
	"github.com/charleschow/betting-service/internal/fanout"
	"github.com/charleschow/betting-service/internal/telemetry"
)

func main() {
	cfg := config.Load()

	addr := flag.String("addr", fmt.Sprintf("localhost:%d", cfg.FanoutPort), "fanout server host:port")
	bet := flag.Int("bet", -1, "bet ID to watch")
	flag.Parse()

	if *bet < 0 {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/watch -bet <id> [-addr localhost:8002]")
		os.Exit(1)
	}

	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := fanout.NewClient(*addr, *bet, printBoard)
	client.ConnectWithRetry(ctx)
}

func printBoard(env fanout.Envelope) {
	fmt.Printf("=== Bet %d  v%d  %s ===\n", env.BetID, env.Version, env.Timestamp.Local().Format("15:04:05.000"))
	if len(env.Payload) == 0 {
		fmt.Println("(no stakes)")
		return
	}
	for i, e := range env.Payload {
		fmt.Printf("%2d. %-10d %d\n", i+1, e.CustomerID, e.Amount)
	}
	fmt.Println()
}
