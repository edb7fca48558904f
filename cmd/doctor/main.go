package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/passbi/intercity/internal/cache"
	"github.com/passbi/intercity/internal/config"
	"github.com/passbi/intercity/internal/db"
)

var expectedTables = []string{
	"routes", "route_stops", "schedules", "buses", "seats", "crew_members",
	"trips", "sales", "tickets", "api_usage", "import_log",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false
	if cfg.StoreDriver == "postgres" {
		failed = !checkPostgres(ctx, cfg.DB) || failed
	} else {
		fmt.Println("ℹ️  STORE_DRIVER=memory, skipping PostgreSQL")
	}
	if cfg.UseRedis {
		failed = !checkRedis(ctx, cfg.Redis) || failed
	} else {
		fmt.Println("ℹ️  USE_REDIS=false, skipping Redis")
	}
	if cfg.Events.NATSURL != "" {
		failed = !checkNATS(cfg.Events.NATSURL) || failed
	} else {
		fmt.Println("ℹ️  NATS_URL not set, events are dropped")
	}

	if failed {
		fmt.Println("\n❌ Some checks failed")
		os.Exit(1)
	}
	fmt.Println("\n✅ All checks passed!")
}

func checkPostgres(ctx context.Context, c *db.Config) bool {
	fmt.Println("🔗 Testing PostgreSQL connection...")
	fmt.Printf("   Host: %s:%d\n", c.Host, c.Port)
	fmt.Printf("   User: %s\n", c.User)
	fmt.Printf("   Database: %s\n\n", c.Database)

	db.Configure(c)
	pool, err := db.GetDB()
	if err != nil {
		fmt.Printf("❌ Failed to connect: %v\n", err)
		return false
	}
	defer db.Close()
	fmt.Println("✅ Connection successful!")

	var pgVersion string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&pgVersion); err != nil {
		fmt.Printf("⚠️  Could not get PostgreSQL version: %v\n", err)
	} else {
		fmt.Printf("📊 PostgreSQL Version:\n   %s\n\n", pgVersion)
	}

	fmt.Println("📋 Checking tables...")
	rows, err := pool.Query(ctx, `
		SELECT tablename
		FROM pg_tables
		WHERE schemaname = 'public'
	`)
	if err != nil {
		fmt.Printf("❌ Could not list tables: %v\n", err)
		return false
	}
	present := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			present[name] = true
		}
	}
	rows.Close()

	ok := true
	for _, t := range expectedTables {
		if present[t] {
			fmt.Printf("   ✓ %s\n", t)
			continue
		}
		fmt.Printf("   ✗ %s (missing, run the importer with --migrate)\n", t)
		ok = false
	}
	fmt.Println()
	return ok
}

func checkRedis(ctx context.Context, c *cache.Config) bool {
	fmt.Printf("🔗 Testing Redis at %s:%d...\n", c.Host, c.Port)
	cache.Configure(c)
	if _, err := cache.GetClient(); err != nil {
		fmt.Printf("❌ %v\n\n", err)
		return false
	}
	defer cache.Close()

	stats, err := cache.Stats(ctx)
	if err != nil {
		fmt.Printf("⚠️  Could not read stats: %v\n\n", err)
		return true
	}
	fmt.Println("✅ Redis reachable")
	for _, k := range []string{"total_conns", "idle_conns", "hits", "misses", "timeouts"} {
		fmt.Printf("   %s: %v\n", k, stats[k])
	}
	fmt.Println()
	return true
}

func checkNATS(url string) bool {
	fmt.Printf("🔗 Testing NATS at %s...\n", url)
	nc, err := nats.Connect(url, nats.Name("intercity-doctor"), nats.Timeout(5*time.Second))
	if err != nil {
		fmt.Printf("❌ %v\n\n", err)
		return false
	}
	defer nc.Close()
	if err := nc.FlushTimeout(5 * time.Second); err != nil {
		fmt.Printf("❌ Flush failed: %v\n\n", err)
		return false
	}
	fmt.Printf("✅ NATS connected (server %s)\n\n", nc.ConnectedServerVersion())
	return true
}
