package analysis

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/podium-backend/internal/domain/analysis"
	"github.com/yungbote/podium-backend/internal/platform/dbctx"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

type AnalysisRunRepo interface {
	Create(dbc dbctx.Context, run *types.AnalysisRun) (*types.AnalysisRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AnalysisRun, error)
	ListRecent(dbc dbctx.Context, status string, limit int) ([]*types.AnalysisRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	ListUnfinished(dbc dbctx.Context, createdBefore time.Time, limit int) ([]*types.AnalysisRun, error)
	FailStale(dbc dbctx.Context, olderThan time.Time, reason string) (int64, error)
}

type analysisRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRunRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRunRepo {
	return &analysisRunRepo{
		db:  db,
		log: baseLog.With("repo", "AnalysisRunRepo"),
	}
}

func (r *analysisRunRepo) Create(dbc dbctx.Context, run *types.AnalysisRun) (*types.AnalysisRun, error) {
	if err := dbc.DB(r.db).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// GetByID returns nil, nil when no run has that id.
func (r *analysisRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AnalysisRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.AnalysisRun
	err := dbc.DB(r.db).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *analysisRunRepo) ListRecent(dbc dbctx.Context, status string, limit int) ([]*types.AnalysisRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := dbc.DB(r.db).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*types.AnalysisRun
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.AnalysisRun{}).
		Where("id = ?", id).
		Updates(withUpdatedAt(updates)).Error
}

// UpdateFieldsUnlessStatus applies updates only while the run is not in one of
// disallowedStatuses. It reports whether a row changed.
func (r *analysisRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	q := dbc.DB(r.db).Model(&types.AnalysisRun{}).Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(withUpdatedAt(updates))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListUnfinished returns queued or running runs created before createdBefore,
// oldest first.
func (r *analysisRunRepo) ListUnfinished(dbc dbctx.Context, createdBefore time.Time, limit int) ([]*types.AnalysisRun, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []*types.AnalysisRun
	err := dbc.DB(r.db).
		Where("status IN ? AND created_at < ?", []string{types.StatusQueued, types.StatusRunning}, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FailStale marks queued or running runs created before olderThan as failed.
// Only valid when runs execute in-process: a dead process took them with it.
func (r *analysisRunRepo) FailStale(dbc dbctx.Context, olderThan time.Time, reason string) (int64, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&types.AnalysisRun{}).
		Where("status IN ? AND created_at < ?", []string{types.StatusQueued, types.StatusRunning}, olderThan).
		Updates(map[string]interface{}{
			"status":      types.StatusFailed,
			"error":       reason,
			"error_code":  "interrupted",
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Warn("marked stale analysis runs failed", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func withUpdatedAt(updates map[string]interface{}) map[string]interface{} {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}
