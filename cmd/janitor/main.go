// Command janitor is the offline maintenance tool. It opens the data
// directory the server persists to, hydrates a private copy of the
// engines, and either inspects the state (-dry-run), runs one retention
// sweep against it, exports a JSON snapshot (-export), or prints the
// newest abuse reports (-reports). Run it against a stopped server or a
// copy of its data directory; pebble allows a single writer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/config"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/match"
	"github.com/driftapp/drift/internal/report"
	"github.com/driftapp/drift/internal/store"
	"github.com/driftapp/drift/internal/sweep"
)

func main() {
	configPath := flag.String("config", "drift.yaml", "path to the configuration file")
	dataDir := flag.String("data-dir", "", "data directory (overrides the configured one)")
	dryRun := flag.Bool("dry-run", false, "hydrate and report state without sweeping")
	exportPath := flag.String("export", "", "write a JSON snapshot of the hydrated state to this file")
	reportCount := flag.Int("reports", 0, "print the N newest abuse reports (requires postgres)")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath, flagPassed("config")))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.Logging.Development); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	logg := logger.L("janitor")

	dir := cfg.Storage.DataDir
	if *dataDir != "" {
		dir = *dataDir
	}

	st, err := store.Open(dir)
	if err != nil {
		logg.Fatal("open store", zap.String("dir", dir), zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			logg.Warn("store close", zap.Error(err))
		}
	}()

	// A private, fully offline copy of the engines: no blocks, no
	// policy, no publisher. Retention must match the server's or the
	// sweep would purge the wrong window.
	matches := match.NewEngine(nil, nil, nil)
	chats := chat.NewEngine(chat.Options{
		CruiseRetention: cfg.Chat.CruiseRetention.Std(),
	})

	stats, err := st.Hydrate(chats, matches)
	if err != nil {
		logg.Fatal("hydrate state", zap.Error(err))
	}
	fmt.Printf("hydrated from %s\n", dir)
	fmt.Printf("  threads:  %d\n", stats.Threads)
	fmt.Printf("  messages: %d\n", stats.Messages)
	fmt.Printf("  cursors:  %d\n", stats.Cursors)
	fmt.Printf("  swipes:   %d\n", stats.Swipes)
	fmt.Printf("  matches:  %d\n", stats.Matches)
	fmt.Printf("  faves:    %d\n", stats.Faves)
	if stats.Corrupt > 0 {
		fmt.Printf("  corrupt:  %d (skipped)\n", stats.Corrupt)
	}

	if *exportPath != "" {
		snap := store.Export(chats, matches)
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			logg.Fatal("marshal snapshot", zap.Error(err))
		}
		if err := os.WriteFile(*exportPath, data, 0o600); err != nil {
			logg.Fatal("write snapshot", zap.String("path", *exportPath), zap.Error(err))
		}
		fmt.Printf("snapshot written to %s\n", *exportPath)
	}

	if *reportCount > 0 {
		if cfg.Storage.PostgresDSN == "" {
			logg.Fatal("-reports requires storage.postgres_dsn")
		}
		printReports(logg, cfg.Storage.PostgresDSN, *reportCount)
	}

	if *dryRun {
		fmt.Println("dry run, nothing swept")
		return
	}

	runner, err := sweep.New(sweep.DefaultCron, chats, matches, nil, st)
	if err != nil {
		logg.Fatal("build sweep", zap.Error(err))
	}
	result := runner.RunOnce()
	fmt.Printf("sweep complete\n")
	fmt.Printf("  purged messages: %d\n", result.PurgedMessages)
	fmt.Printf("  snapshot saved:  %v\n", result.SnapshotSaved)
}

func printReports(logg *zap.Logger, dsn string, limit int) {
	db, err := report.Open(dsn)
	if err != nil {
		logg.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reports, err := report.NewStore(db).ListRecent(ctx, limit)
	if err != nil {
		logg.Fatal("list reports", zap.Error(err))
	}

	fmt.Printf("%d recent reports\n", len(reports))
	for _, r := range reports {
		line := fmt.Sprintf("  %s  %-12s %s -> %s",
			r.CreatedAt.Format(time.RFC3339), r.Reason, r.ReporterKey, r.TargetKey)
		if r.Comment != "" {
			line += fmt.Sprintf("  %q", r.Comment)
		}
		fmt.Println(line)
	}
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
