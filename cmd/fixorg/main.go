package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"veridia.org/internal/catalog"
	"veridia.org/internal/compliance"
	"veridia.org/internal/fixorg"
	"veridia.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn        = flag.String("dsn", os.Getenv("VERIDIA_PG_DSN"), "PostgreSQL DSN")
		catalogDir = flag.String("catalog", "ops/catalog", "Path to the template catalog")
		org        = flag.String("org", "", "Limit the run to one organization")
		repair     = flag.Bool("repair", false, "Create missing entities instead of only reporting them")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or VERIDIA_PG_DSN")
	}

	cat, err := catalog.Load(*catalogDir)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	store, err := pg.Open(*dsn, cat)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	runner := fixorg.New(store)

	if *org != "" {
		var stats compliance.OrgStats
		if *repair {
			stats, err = runner.RepairOne(ctx, *org)
		} else {
			stats, err = runner.ScanOne(ctx, *org)
		}
		if err != nil {
			log.Fatalf("fixorg %s: %v", *org, err)
		}
		printJSON(stats)
		return
	}

	report, err := runner.Run(ctx, *repair)
	if err != nil {
		log.Fatalf("fixorg: %v", err)
	}
	printJSON(report)
	if report.Failures == len(report.Organizations) && report.Failures > 0 {
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
