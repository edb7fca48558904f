package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/passbi/intercity/internal/app"
	"github.com/passbi/intercity/internal/config"
	"github.com/passbi/intercity/internal/network"
)

func main() {
	// Command-line flags
	tenantID := flag.String("tenant", "", "Tenant (cooperative) ID owning the network (required)")
	source := flag.String("network", "", "Path to a network ZIP archive or directory of CSV files (required)")
	migrate := flag.Bool("migrate", false, "Apply the database schema before importing")
	materialize := flag.Bool("materialize", false, "Materialize trips for the configured horizon after import")

	flag.Parse()

	// Validate required flags
	if *tenantID == "" || *source == "" {
		fmt.Println("Usage: intercity-import --tenant=<id> --network=<path.zip|dir> [--migrate] [--materialize]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	info, err := os.Stat(*source)
	if os.IsNotExist(err) {
		log.Fatalf("Network source not found: %s", *source)
	} else if err != nil {
		log.Fatalf("Cannot read network source: %v", err)
	}

	log.Println("Starting network import...")
	log.Printf("Tenant: %s", *tenantID)
	log.Printf("Source: %s", *source)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *migrate {
		cfg.AutoMigrate = true
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	defer a.Close()

	var logID int64
	if a.Pool != nil {
		if logID, err = createImportLog(ctx, a.Pool, *tenantID, *source); err != nil {
			log.Fatalf("Failed to create import log: %v", err)
		}
	}

	n, err := runImport(ctx, a, *tenantID, *source, info.IsDir())
	if err != nil {
		if a.Pool != nil {
			updateImportLog(ctx, a.Pool, logID, "failed", nil, err.Error())
		}
		log.Fatalf("Import failed: %v", err)
	}
	if a.Pool != nil {
		if err := updateImportLog(ctx, a.Pool, logID, "success", n, ""); err != nil {
			log.Printf("⚠️  Failed to update import log: %v", err)
		}
	}

	if *materialize {
		start, end := a.Horizon()
		log.Printf("Materializing trips %s .. %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
		summary, err := a.Materializer.MaterializeRange(ctx, *tenantID, nil, start, end)
		if err != nil {
			log.Fatalf("Materialization failed: %v", err)
		}
		log.Printf("✅ Created %d trips, skipped %d, %d gaps", summary.Created, summary.Skipped, len(summary.Gaps))
		for _, g := range summary.Gaps {
			log.Printf("   gap: schedule %s on %s: %s", g.ScheduleID, g.Date.Format(time.DateOnly), g.Reason)
		}
	}

	log.Println("Import completed successfully!")
}

func runImport(ctx context.Context, a *app.App, tenantID, source string, isDir bool) (*network.Network, error) {
	startTime := time.Now()

	log.Println("Step 1/3: Parsing network files...")
	var n *network.Network
	var err error
	if isDir {
		n, err = network.ParseDir(source, tenantID)
	} else {
		n, err = network.ParseZip(source, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse network: %w", err)
	}

	log.Println("Step 2/3: Validating references and topologies...")
	if err := n.Validate(); err != nil {
		return nil, err
	}

	log.Println("Step 3/3: Saving network...")
	if err := a.Store.SaveNetwork(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to save network: %w", err)
	}

	log.Printf("Imported %d routes, %d stops, %d schedules, %d buses, %d seats, %d crew in %s",
		len(n.Routes), len(n.Stops), len(n.Schedules), len(n.Buses), len(n.Seats), len(n.Crew),
		time.Since(startTime).Round(time.Millisecond))
	return n, nil
}

func createImportLog(ctx context.Context, pool *pgxpool.Pool, tenantID, source string) (int64, error) {
	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO import_log (tenant_id, source, status)
		VALUES ($1, $2, 'running')
		RETURNING id
	`, tenantID, source).Scan(&id)

	return id, err
}

func updateImportLog(ctx context.Context, pool *pgxpool.Pool, id int64, status string, n *network.Network, errMsg string) error {
	message := errMsg
	if status == "success" && n != nil {
		message = fmt.Sprintf("Imported %d routes, %d stops, %d schedules, %d buses", len(n.Routes), len(n.Stops), len(n.Schedules), len(n.Buses))
	}

	_, err := pool.Exec(ctx, `
		UPDATE import_log
		SET completed_at = NOW(),
		    status = $2,
		    message = $3
		WHERE id = $1
	`, id, status, message)

	return err
}
