// Command catalogsync: one-shot catalog synchronisation (scan), or the
// supporting operations separately.
//
//	scan     Run a full sync pass: preflight sources, walk all phases, merge into the catalog DB
//	probe    Preflight every configured source and report auth-dead vs unreachable vs ok
//	ledger   Summarise a scan's ingest ledger (default: most recent scan)
//	profile  Print the detected device profile and the pipeline numbers it implies
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediafold/catalogsync/internal/config"
	"github.com/mediafold/catalogsync/internal/deviceprofile"
	"github.com/mediafold/catalogsync/internal/httpclient"
	"github.com/mediafold/catalogsync/internal/ledger"
	"github.com/mediafold/catalogsync/internal/metrics"
	"github.com/mediafold/catalogsync/internal/preflight"
	"github.com/mediafold/catalogsync/internal/scan"
	"github.com/mediafold/catalogsync/internal/source"
	"github.com/mediafold/catalogsync/internal/source/mediarchive"
	"github.com/mediafold/catalogsync/internal/source/xtream"
	"github.com/mediafold/catalogsync/internal/store"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[catalogsync] ")

	scanCmd := flag.NewFlagSet("scan", flag.ExitOnError)
	scanDB := scanCmd.String("db", "", "Catalog DB path (default: CATSYNC_DB)")
	scanTimeout := scanCmd.Duration("timeout", 0, "Overall scan deadline (e.g. 30m). 0 = no deadline")

	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	probeTimeout := probeCmd.Duration("timeout", 15*time.Second, "Timeout per source probe")

	ledgerCmd := flag.NewFlagSet("ledger", flag.ExitOnError)
	ledgerDB := ledgerCmd.String("db", "", "Catalog DB path (default: CATSYNC_DB)")
	ledgerScanID := ledgerCmd.String("scan", "", "Scan id to summarise (default: most recent)")

	profileCmd := flag.NewFlagSet("profile", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <scan|probe|ledger|profile> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  scan     Run a full sync pass into the catalog DB\n")
		fmt.Fprintf(os.Stderr, "  probe    Preflight configured sources, report ok / auth-dead / unreachable\n")
		fmt.Fprintf(os.Stderr, "  ledger   Summarise a scan's ingest ledger\n")
		fmt.Fprintf(os.Stderr, "  profile  Print the detected device profile\n")
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "scan":
		_ = scanCmd.Parse(os.Args[2:])
		os.Exit(runScan(cfg, *scanDB, *scanTimeout))

	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		os.Exit(runProbe(cfg, *probeTimeout))

	case "ledger":
		_ = ledgerCmd.Parse(os.Args[2:])
		os.Exit(runLedger(cfg, *ledgerDB, *ledgerScanID))

	case "profile":
		_ = profileCmd.Parse(os.Args[2:])
		p := deviceprofile.Current()
		fmt.Printf("class:        %s\n", p.Class)
		fmt.Printf("mem total:    %d MB\n", p.MemTotalMB)
		fmt.Printf("concurrency:  %d phase permits\n", p.ConcurrencyLimit)
		fmt.Printf("db batch:     %d items\n", p.DBBatchSize)
		fmt.Printf("buffer:       %d items\n", p.BufferCapacity)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

// buildAdapters assembles every configured source. Sources without config
// come back disabled and the engine skips them.
func buildAdapters(cfg *config.Config) []source.Adapter {
	client := httpclient.WithTimeout(cfg.SourceTimeout)
	xt := xtream.New(xtream.Config{
		BaseURL:   cfg.XtreamBaseURL,
		User:      cfg.XtreamUser,
		Pass:      cfg.XtreamPass,
		StreamExt: cfg.StreamExt,
		Label:     cfg.XtreamLabel,
	}, client)
	ar := mediarchive.New(mediarchive.Config{
		BaseURL:  cfg.ArchiveBaseURL,
		Token:    cfg.ArchiveToken,
		Channels: cfg.ArchiveChannels,
		Label:    cfg.ArchiveLabel,
	}, client)
	return []source.Adapter{xt, ar}
}

// scanProfile is the device profile with any env overrides applied.
func scanProfile(cfg *config.Config) deviceprofile.Profile {
	p := deviceprofile.Current()
	if cfg.ConcurrencyLimit > 0 {
		p.ConcurrencyLimit = cfg.ConcurrencyLimit
	}
	if cfg.DBBatchSize > 0 {
		p.DBBatchSize = cfg.DBBatchSize
	}
	if cfg.BufferCapacity > 0 {
		p.BufferCapacity = cfg.BufferCapacity
	}
	return p
}

func runScan(cfg *config.Config, dbPath string, timeout time.Duration) int {
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		log.Printf("open store: %v", err)
		return 1
	}
	defer st.Close()

	metrics.Serve(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	eng := scan.NewEngine(st, buildAdapters(cfg), scanProfile(cfg))
	res, err := eng.ExecuteScan(ctx)
	if err != nil {
		log.Printf("scan completed with errors: %v", err)
		if errors.Is(err, preflight.ErrAuthRequired) {
			log.Printf("re-authentication required: update credentials and rerun")
			return 2
		}
		return 1
	}
	log.Printf("scan %s ok", res.ScanID)
	return 0
}

func runProbe(cfg *config.Config, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	exit := 0
	for _, a := range buildAdapters(cfg) {
		if !a.Enabled() {
			fmt.Printf("%-12s not configured\n", a.Type())
			continue
		}
		err := a.Preflight(ctx)
		switch {
		case err == nil:
			fmt.Printf("%-12s ok\n", a.Type())
		case errors.Is(err, preflight.ErrAuthRequired):
			fmt.Printf("%-12s AUTH DEAD: %v\n", a.Type(), err)
			exit = 2
		default:
			fmt.Printf("%-12s unreachable: %v\n", a.Type(), err)
			if exit == 0 {
				exit = 1
			}
		}
	}
	return exit
}

func runLedger(cfg *config.Config, dbPath, scanID string) int {
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		log.Printf("open store: %v", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()
	if scanID == "" {
		scanID, err = st.LatestScanID(ctx)
		if err != nil {
			log.Printf("latest scan: %v", err)
			return 1
		}
		if scanID == "" {
			fmt.Println("ledger is empty")
			return 0
		}
	}
	total, err := st.LedgerCount(ctx, scanID)
	if err != nil {
		log.Printf("ledger count: %v", err)
		return 1
	}
	byDecision, byReason, err := st.LedgerSummary(ctx, scanID)
	if err != nil {
		log.Printf("ledger summary: %v", err)
		return 1
	}
	fmt.Printf("scan %s: %d items\n", scanID, total)
	for _, d := range []ledger.Decision{ledger.Accepted, ledger.Rejected, ledger.Skipped} {
		if n := byDecision[d]; n > 0 {
			fmt.Printf("  %-10s %d\n", d, n)
		}
	}
	for _, r := range []ledger.Reason{
		ledger.ReasonCreatedNew, ledger.ReasonLinkedAuthority, ledger.ReasonLinkedMerged,
		ledger.ReasonAlreadyProcessed, ledger.ReasonDuplicateSource, ledger.ReasonInvalidTitle,
		ledger.ReasonUnsupportedFormat, ledger.ReasonParseError, ledger.ReasonNetworkError,
		ledger.ReasonSourceDisabled, ledger.ReasonRateLimited,
	} {
		if n := byReason[r]; n > 0 {
			fmt.Printf("    %-20s %d\n", r, n)
		}
	}
	return 0
}
