package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ndrandal/intraday-pnl/internal/config"
	"github.com/ndrandal/intraday-pnl/internal/logging"
	"github.com/ndrandal/intraday-pnl/internal/persist"
)

// pnlctl prints the aggregated PnL view: the newest interval plus the
// one-minute and five-minute windows anchored at it. The frontend façade
// reads the same query; this tool exists for operators.
func main() {
	cfg := config.Load()
	log := logging.New("pnlctl", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := persist.NewStore(ctx, cfg.MongoURI, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	rows, err := persist.NewPnLReader(store.DB()).Summary(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "summary query failed: %v\n", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Println("no pnl records")
		return
	}

	if os.Getenv("PNLCTL_JSON") != "" {
		json.NewEncoder(os.Stdout).Encode(rows)
		return
	}

	labels := []string{"last interval", "1 minute", "5 minutes"}
	for i, r := range rows {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		fmt.Printf("%-14s %s .. %s  pnl=%s\n", label, r.StartTime, r.EndTime, r.PnL)
	}
}
