// Package maintenance creates and drops the daily range partitions that
// back the view-store's Postgres schema (views, view_prefixes,
// view_peers), and refreshes the feed-summary materialized view built
// on top of them. Grounded on the teacher's route_events partition
// manager; generalized from a single partitioned table to the three
// tables pgsink writes into.
package maintenance

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// partitionedTables lists every RANGE-partitioned parent table pgsink
// writes into, in dependency order (views first, since view_prefixes
// and view_peers carry a foreign key to it).
var partitionedTables = []string{"views", "view_prefixes", "view_peers"}

var validPartitionName = regexp.MustCompile(`^(?:views|view_prefixes|view_peers)_\d{8}$`)

type PartitionManager struct {
	pool          *pgxpool.Pool
	retentionDays int
	timezone      string
	logger        *zap.Logger
}

func NewPartitionManager(pool *pgxpool.Pool, retentionDays int, timezone string, logger *zap.Logger) *PartitionManager {
	return &PartitionManager{
		pool:          pool,
		retentionDays: retentionDays,
		timezone:      timezone,
		logger:        logger,
	}
}

func (pm *PartitionManager) Run(ctx context.Context) error {
	if err := pm.CreatePartitions(ctx); err != nil {
		return fmt.Errorf("creating partitions: %w", err)
	}
	if err := pm.DropOldPartitions(ctx); err != nil {
		return fmt.Errorf("dropping old partitions: %w", err)
	}
	if err := pm.RefreshSummary(ctx); err != nil {
		return fmt.Errorf("refreshing view_peer_feed_summary: %w", err)
	}
	return nil
}

// RefreshSummary refreshes the view_peer_feed_summary materialized view
// concurrently. A failure is logged, not fatal: the view may not have
// been populated yet on a fresh database.
func (pm *PartitionManager) RefreshSummary(ctx context.Context) error {
	_, err := pm.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY view_peer_feed_summary")
	if err != nil {
		pm.logger.Warn("failed to refresh view_peer_feed_summary (may not be populated yet)", zap.Error(err))
	}
	return nil
}

// CreatePartitions creates today's and tomorrow's partitions, across
// every partitioned table, using the configured timezone.
func (pm *PartitionManager) CreatePartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}

	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)
	dayAfter := today.AddDate(0, 0, 2)

	if err := pm.createPartitionSet(ctx, today, tomorrow); err != nil {
		return err
	}
	if err := pm.createPartitionSet(ctx, tomorrow, dayAfter); err != nil {
		return err
	}
	return nil
}

func (pm *PartitionManager) createPartitionSet(ctx context.Context, from, to time.Time) error {
	for _, table := range partitionedTables {
		if err := pm.createPartition(ctx, table, from, to); err != nil {
			return err
		}
	}
	return nil
}

func (pm *PartitionManager) createPartition(ctx context.Context, table string, from, to time.Time) error {
	name := fmt.Sprintf("%s_%s", table, from.Format("20060102"))
	safeName := pgx.Identifier{name}.Sanitize()
	safeParent := pgx.Identifier{table}.Sanitize()
	fromStr := from.UTC().Format("2006-01-02 15:04:05+00")
	toStr := to.UTC().Format("2006-01-02 15:04:05+00")

	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		safeName, safeParent, fromStr, toStr,
	)
	if _, err := pm.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("creating partition %s: %w", name, err)
	}
	pm.logger.Info("partition ensured", zap.String("partition", name))

	if table == "view_prefixes" {
		safeIdx := pgx.Identifier{fmt.Sprintf("idx_%s_bucket", name)}.Sanitize()
		idxSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (bucket_time)`, safeIdx, safeName)
		if _, err := pm.pool.Exec(ctx, idxSQL); err != nil {
			return fmt.Errorf("creating bucket index on %s: %w", name, err)
		}
	}

	return nil
}

// DropOldPartitions drops, across every partitioned table, partitions
// older than the configured retention period.
func (pm *PartitionManager) DropOldPartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}

	cutoff := time.Now().In(loc).AddDate(0, 0, -pm.retentionDays)
	cutoffDate := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, loc)

	for _, table := range partitionedTables {
		if err := pm.dropOldPartitionsOf(ctx, table, cutoffDate, loc); err != nil {
			return err
		}
	}
	return nil
}

func (pm *PartitionManager) dropOldPartitionsOf(ctx context.Context, table string, cutoffDate time.Time, loc *time.Location) error {
	rows, err := pm.pool.Query(ctx,
		`SELECT inhrelid::regclass::text FROM pg_inherits WHERE inhparent = $1::regclass`, table)
	if err != nil {
		return fmt.Errorf("listing partitions of %s: %w", table, err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scanning partition name: %w", err)
		}
		partitions = append(partitions, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating partitions of %s: %w", table, err)
	}

	for _, name := range partitions {
		if !validPartitionName.MatchString(name) {
			pm.logger.Warn("skipping partition with unexpected name", zap.String("partition", name))
			continue
		}

		dateStr := name[len(name)-8:]
		partDate, err := time.ParseInLocation("20060102", dateStr, loc)
		if err != nil {
			pm.logger.Warn("cannot parse partition date", zap.String("partition", name))
			continue
		}

		if partDate.Before(cutoffDate) {
			safeName := pgx.Identifier{name}.Sanitize()
			dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", safeName)
			if _, err := pm.pool.Exec(ctx, dropSQL); err != nil {
				return fmt.Errorf("dropping partition %s: %w", name, err)
			}
			pm.logger.Info("dropped old partition", zap.String("partition", name), zap.Time("cutoff", cutoffDate))
		}
	}

	return nil
}
