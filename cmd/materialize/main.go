package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/passbi/intercity/internal/app"
	"github.com/passbi/intercity/internal/config"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/models"
)

func main() {
	tenantID := flag.String("tenant", "", "Tenant (cooperative) ID (required)")
	from := flag.String("from", "", "First service date YYYY-MM-DD (default today)")
	to := flag.String("to", "", "Last service date YYYY-MM-DD (default today + horizon - 1)")
	schedules := flag.String("schedules", "", "Comma separated schedule IDs (default all active)")
	strategy := flag.String("strategy", "", "Bus selection strategy: random, first or least_used")
	flag.Parse()

	if *tenantID == "" {
		fmt.Println("Usage: intercity-materialize --tenant=<id> [--from=YYYY-MM-DD] [--to=YYYY-MM-DD] [--schedules=a,b] [--strategy=first]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	log.Println("🗓️  Intercity - Trip Materializer")
	log.Println("===================================")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	if *strategy != "" {
		cfg.Materializer.Strategy = *strategy
		if err := cfg.Validate(); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
	if cfg.StoreDriver == "memory" {
		log.Println("⚠️  STORE_DRIVER=memory: trips will not outlive this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Startup failed: %v", err)
	}
	defer a.Close()

	start, end := a.Horizon()
	if *from != "" {
		if start, err = time.Parse(time.DateOnly, *from); err != nil {
			log.Fatalf("❌ Invalid --from: %v", err)
		}
	}
	if *to != "" {
		if end, err = time.Parse(time.DateOnly, *to); err != nil {
			log.Fatalf("❌ Invalid --to: %v", err)
		}
	}
	if end.Before(start) {
		log.Fatalf("❌ --to %s is before --from %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	var selected []models.Schedule
	if *schedules != "" {
		for _, id := range strings.Split(*schedules, ",") {
			s, err := a.Store.Schedule(ctx, *tenantID, strings.TrimSpace(id))
			if err != nil {
				log.Fatalf("❌ %v", err)
			}
			selected = append(selected, s)
		}
	}

	log.Printf("🔄 Materializing %s .. %s (strategy %s)", start.Format(time.DateOnly), end.Format(time.DateOnly), cfg.Materializer.Strategy)
	began := time.Now()

	summary, err := a.Materializer.MaterializeRange(ctx, *tenantID, selected, start, end)
	if errors.Is(err, materializer.ErrRunInProgress) {
		log.Fatalf("❌ Another materialization is running for tenant %s", *tenantID)
	}
	if err != nil {
		log.Fatalf("❌ Materialization failed: %v", err)
	}

	fmt.Println()
	log.Println("✅ Materialization completed!")
	log.Printf("⏱️  Duration: %v", time.Since(began).Round(time.Millisecond))
	log.Printf("📊 Summary:")
	log.Printf("   Created: %d", summary.Created)
	log.Printf("   Skipped: %d", summary.Skipped)
	states := make([]string, 0, len(summary.ByState))
	for s := range summary.ByState {
		states = append(states, string(s))
	}
	sort.Strings(states)
	for _, s := range states {
		log.Printf("   %-12s %d", s+":", summary.ByState[models.TripState(s)])
	}
	if len(summary.Gaps) > 0 {
		log.Printf("⚠️  %d dates left without a trip:", len(summary.Gaps))
		for _, g := range summary.Gaps {
			log.Printf("   %s %s: %s", g.ScheduleID, g.Date.Format(time.DateOnly), g.Reason)
		}
	}
}
