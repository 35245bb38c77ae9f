// Command ledger-audit verifies the point ledger offline: it screens for
// duplicate EARN references and recomputes every member's balance from the
// ledger, writing drifted members to a gzip-compressed CSV report.
//
// The partial unique EARN index should make duplicates impossible; this tool
// exists to prove that on databases that predate the index or were restored
// from partial backups.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/proclub/commerce/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
)

const (
	streamEarnRefsSQL = `SELECT COALESCE(ref_type, ''), COALESCE(ref_id, '')
	FROM point_ledger WHERE type = 'EARN' ORDER BY id`

	countEarnRefSQL = `SELECT COUNT(*) FROM point_ledger
	WHERE type = 'EARN' AND ref_type = $1 AND ref_id = $2`

	listMemberIDsSQL = `SELECT id FROM members ORDER BY id`

	memberBalanceSQL = `SELECT m.points_balance,
		COALESCE((SELECT SUM(points_delta) FROM point_ledger WHERE member_id = m.id), 0)
	FROM members m WHERE m.id = $1`
)

// drift is one member whose cached balance disagrees with the ledger.
type drift struct {
	memberID      string
	ledgerSum     int64
	cachedBalance int64
}

func main() {
	var (
		databaseURL string
		reportPath  string
		workers     int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&reportPath, "report", "ledger-audit.csv.gz", "path for the drift report")
	flag.IntVar(&workers, "workers", 8, "concurrent balance recomputations")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, reportPath, workers); err != nil {
		slog.Error("ledger audit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ledger audit completed successfully")
}

func run(ctx context.Context, databaseURL, reportPath string, workers int) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	dupes, err := findDuplicateEarns(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "find duplicate earns")
	}
	if len(dupes) > 0 {
		slog.Error("duplicate earn references found", slog.Int("count", len(dupes)))
		for _, ref := range dupes {
			slog.Error("duplicate earn", slog.String("ref", ref))
		}
	} else {
		slog.Info("no duplicate earn references")
	}

	drifts, err := recomputeBalances(ctx, pool, workers)
	if err != nil {
		return errors.Wrap(err, "recompute balances")
	}
	slog.Info("balances recomputed", slog.Int("drifted", len(drifts)))

	if err := writeReport(reportPath, drifts); err != nil {
		return errors.Wrap(err, "write report")
	}
	slog.Info("report written", slog.String("path", reportPath))

	return nil
}

// findDuplicateEarns streams EARN references through a bloom filter to screen
// for repeats, then confirms each candidate with an exact count. The filter
// keeps memory flat no matter how large the ledger is; false positives are
// discarded by the confirmation query.
func findDuplicateEarns(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	candidates := make(map[[2]string]struct{})

	rows, err := pool.Query(ctx, streamEarnRefsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "stream earn refs")
	}
	defer rows.Close()

	var scanned uint64
	for rows.Next() {
		var refType, refID string
		if err := rows.Scan(&refType, &refID); err != nil {
			return nil, errors.Wrap(err, "scan earn ref")
		}
		scanned++
		if filter.TestAndAddString(refType + "|" + refID) {
			candidates[[2]string{refType, refID}] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate earn refs")
	}

	slog.Info("earn references screened",
		slog.Uint64("scanned", scanned),
		slog.Int("candidates", len(candidates)),
	)

	var dupes []string
	for ref := range candidates {
		var count int64
		if err := pool.QueryRow(ctx, countEarnRefSQL, ref[0], ref[1]).Scan(&count); err != nil {
			return nil, errors.Wrapf(err, "count earn ref %s %s", ref[0], ref[1])
		}
		if count > 1 {
			dupes = append(dupes, fmt.Sprintf("%s:%s x%d", ref[0], ref[1], count))
		}
	}
	return dupes, nil
}

// recomputeBalances compares every member's cached balance against the ledger
// sum, fanning the per-member queries out across workers.
func recomputeBalances(ctx context.Context, pool *pgxpool.Pool, workers int) ([]drift, error) {
	rows, err := pool.Query(ctx, listMemberIDsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list members")
	}
	var memberIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan member id")
		}
		memberIDs = append(memberIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate members")
	}

	var (
		mu     sync.Mutex
		drifts []drift
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range memberIDs {
		g.Go(func() error {
			var cached, sum int64
			if err := pool.QueryRow(ctx, memberBalanceSQL, id).Scan(&cached, &sum); err != nil {
				return errors.Wrapf(err, "recompute member %s", id)
			}
			if cached != sum {
				mu.Lock()
				drifts = append(drifts, drift{memberID: id, ledgerSum: sum, cachedBalance: cached})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("members checked", slog.Int("count", len(memberIDs)))
	return drifts, nil
}

// writeReport writes drifted members as gzip-compressed CSV.
func writeReport(path string, drifts []drift) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	w := csv.NewWriter(gz)

	if err := w.Write([]string{"member_id", "ledger_sum", "cached_balance", "drift"}); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, d := range drifts {
		record := []string{
			d.memberID,
			strconv.FormatInt(d.ledgerSum, 10),
			strconv.FormatInt(d.cachedBalance, 10),
			strconv.FormatInt(d.cachedBalance-d.ledgerSum, 10),
		}
		if err := w.Write(record); err != nil {
			return errors.Wrapf(err, "write record for %s", d.memberID)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip")
	}
	return f.Close()
}
