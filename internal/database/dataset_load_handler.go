package database

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"iptoasn/internal/domain"
	"iptoasn/internal/snapshot"
)

const DefaultHistoryKeep = 500

var ErrNotConfigured = errors.New("database: not configured")

func RecordDatasetLoad(ctx context.Context, load *domain.DatasetLoad) error {
	if DB == nil {
		return ErrNotConfigured
	}
	if load == nil {
		return errors.New("database: dataset load cannot be nil")
	}
	return DB.WithContext(ctx).Create(load).Error
}

// ListRecentDatasetLoads returns up to limit rows, newest first.
func ListRecentDatasetLoads(ctx context.Context, limit int) ([]domain.DatasetLoad, error) {
	if DB == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 20
	}

	var loads []domain.DatasetLoad
	err := DB.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&loads).Error
	return loads, err
}

// PruneDatasetLoads keeps the newest keep rows and deletes the rest.
func PruneDatasetLoads(ctx context.Context, keep int) (int64, error) {
	if DB == nil {
		return 0, ErrNotConfigured
	}
	if keep <= 0 {
		keep = DefaultHistoryKeep
	}

	var cutoff domain.DatasetLoad
	err := DB.WithContext(ctx).
		Order("id DESC").
		Offset(keep - 1).
		Limit(1).
		Take(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	res := DB.WithContext(ctx).Where("id < ?", cutoff.ID).Delete(&domain.DatasetLoad{})
	return res.RowsAffected, res.Error
}

// NewDatasetLoad converts a controller report into a history row.
func NewDatasetLoad(report snapshot.LoadReport) domain.DatasetLoad {
	load := domain.DatasetLoad{
		Origin:       report.Origin,
		Outcome:      report.Outcome,
		Records:      report.Stats.Records,
		Countries:    report.Stats.Countries,
		Descriptions: report.Stats.Descriptions,
		Skipped:      report.Stats.Skipped,
		Collisions:   report.Stats.Collisions,
		Digest:       report.Digest,
		DurationMs:   report.Duration.Milliseconds(),
	}
	if report.Err != nil {
		load.Error = report.Err.Error()
	}
	return load
}

// HistoryRecorder returns a snapshot observer that stores every load attempt
// and trims the table to keep rows.
func HistoryRecorder(keep int) snapshot.Observer {
	return func(report snapshot.LoadReport) {
		ctx := context.Background()
		load := NewDatasetLoad(report)
		if err := RecordDatasetLoad(ctx, &load); err != nil {
			log.Warn("Failed to record dataset load", "outcome", report.Outcome, "error", err)
			return
		}
		if removed, err := PruneDatasetLoads(ctx, keep); err != nil {
			log.Warn("Failed to prune dataset load history", "error", err)
		} else if removed > 0 {
			log.Debug("Pruned dataset load history", "removed", removed)
		}
	}
}
