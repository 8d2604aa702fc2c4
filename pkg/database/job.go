package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/model"
)

// 错误信息落库前截断
const maxErrorLength = 2000

type JobDB struct {
	db *gorm.DB
}

// CreateSet 在一个事务内写入任务集及全部任务
func (j *JobDB) CreateSet(ctx context.Context, set *model.JobSet, records []model.JobRecord) error {
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(set).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(&records, 500).Error
	})
	if err != nil {
		return fmt.Errorf("创建任务集失败: %w", errs.FromStore(err))
	}
	return nil
}

func (j *JobDB) GetSet(ctx context.Context, id string) (*model.JobSet, error) {
	var set model.JobSet
	err := j.db.WithContext(ctx).First(&set, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.CodeNotFound, "任务集不存在: "+id, err)
		}
		return nil, fmt.Errorf("获取任务集失败: %w", err)
	}
	return &set, nil
}

func (j *JobDB) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := j.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.CodeNotFound, "任务不存在: "+id, err)
		}
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}
	return &rec, nil
}

// ListBySet 查询任务集内的任务，state 为空时不过滤
func (j *JobDB) ListBySet(ctx context.Context, setID string, state model.JobState, limit int) ([]model.JobRecord, error) {
	tx := j.db.WithContext(ctx).Where("job_set_id = ?", setID)
	if state != "" {
		tx = tx.Where("state = ?", state)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var records []model.JobRecord
	if err := tx.Order("created_at, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w", err)
	}
	return records, nil
}

// Progress 按状态汇总任务集进度
func (j *JobDB) Progress(ctx context.Context, setID string) (*model.JobSetProgress, error) {
	set, err := j.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		State model.JobState
		N     int
	}
	err = j.db.WithContext(ctx).
		Model(&model.JobRecord{}).
		Select("state, COUNT(*) AS n").
		Where("job_set_id = ?", setID).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计任务进度失败: %w", err)
	}

	progress := &model.JobSetProgress{
		JobSetID:  set.ID,
		Kind:      set.Kind,
		Total:     set.Total,
		Cancelled: set.Cancelled,
		States:    make(map[model.JobState]int, len(rows)),
	}
	for _, r := range rows {
		progress.States[r.State] = r.N
		if r.State.IsTerminal() {
			progress.Finished += r.N
		}
	}
	progress.Done = progress.Finished >= progress.Total
	return progress, nil
}

// transition 仅更新非终态任务，返回是否命中
func (j *JobDB) transition(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now().UTC()
	res := j.db.WithContext(ctx).
		Model(&model.JobRecord{}).
		Where("id = ? AND state NOT IN ?", id, model.TerminalStates).
		Updates(updates)
	if res.Error != nil {
		return false, errs.FromStore(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkRunning 进入执行，attempt 为本次尝试序号
func (j *JobDB) MarkRunning(ctx context.Context, id string, attempt int, now time.Time) (bool, error) {
	return j.transition(ctx, id, map[string]interface{}{
		"state":      model.JobRunning,
		"attempts":   attempt,
		"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
	})
}

// MarkRetrying 本次尝试失败且可重试
func (j *JobDB) MarkRetrying(ctx context.Context, id string, attempt int, cause error) (bool, error) {
	return j.transition(ctx, id, map[string]interface{}{
		"state":      model.JobRetrying,
		"attempts":   attempt,
		"last_error": truncateError(cause),
	})
}

// MarkSucceeded 成功，记录写入行数及检查点
func (j *JobDB) MarkSucceeded(ctx context.Context, id string, attempts, rows int, checkpoint *time.Time, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"state":        model.JobSucceeded,
		"attempts":     attempts,
		"rows_written": rows,
		"finished_at":  now,
	}
	if checkpoint != nil {
		updates["checkpoint"] = *checkpoint
	}
	return j.transition(ctx, id, updates)
}

// MarkFailed 终止失败
func (j *JobDB) MarkFailed(ctx context.Context, id string, attempts int, cause error, now time.Time) (bool, error) {
	return j.transition(ctx, id, map[string]interface{}{
		"state":       model.JobFailed,
		"attempts":    attempts,
		"last_error":  truncateError(cause),
		"finished_at": now,
	})
}

// MarkCancelled 任务集已取消
func (j *JobDB) MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error) {
	return j.transition(ctx, id, map[string]interface{}{
		"state":       model.JobCancelled,
		"finished_at": now,
	})
}

// FailUnsent 把未能入队的 pending 任务直接置为 failed，返回命中数
func (j *JobDB) FailUnsent(ctx context.Context, ids []string, cause error, now time.Time) (int64, error) {
	const chunk = 500
	msg := truncateError(cause)
	var affected int64
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		res := j.db.WithContext(ctx).Model(&model.JobRecord{}).
			Where("id IN ? AND state = ?", ids[start:end], model.JobPending).
			Updates(map[string]interface{}{
				"state":       model.JobFailed,
				"last_error":  msg,
				"finished_at": now,
				"updated_at":  now,
			})
		if res.Error != nil {
			return affected, errs.FromStore(res.Error)
		}
		affected += res.RowsAffected
	}
	return affected, nil
}

// IsCancelled 任务集是否已取消
func (j *JobDB) IsCancelled(ctx context.Context, setID string) (bool, error) {
	var set model.JobSet
	err := j.db.WithContext(ctx).Select("cancelled").First(&set, "id = ?", setID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, errs.Wrap(errs.CodeNotFound, "任务集不存在: "+setID, err)
		}
		return false, errs.FromStore(err)
	}
	return set.Cancelled, nil
}

// Cancel 标记任务集取消，并把尚未开始的任务直接置为 cancelled；执行中的任务在下次尝试前退出
func (j *JobDB) Cancel(ctx context.Context, setID string, now time.Time) (int64, error) {
	var affected int64
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.JobSet{}).
			Where("id = ?", setID).
			Updates(map[string]interface{}{"cancelled": true, "cancelled_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.New(errs.CodeNotFound, "任务集不存在: "+setID)
		}
		res = tx.Model(&model.JobRecord{}).
			Where("job_set_id = ? AND state = ?", setID, model.JobPending).
			Updates(map[string]interface{}{
				"state":       model.JobCancelled,
				"finished_at": now,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, errs.FromStore(err)
	}
	return affected, nil
}

// PruneBefore 删除早于 cutoff 且已全部结束的任务集
func (j *JobDB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&model.JobSet{}).
			Where("created_at < ?", cutoff).
			Where("NOT EXISTS (SELECT 1 FROM job_records r WHERE r.job_set_id = job_sets.id AND r.state NOT IN ?)", model.TerminalStates).
			Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		if err := tx.Where("job_set_id IN ?", ids).Delete(&model.JobRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.JobSet{})
		pruned = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, errs.FromStore(err)
	}
	return pruned, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	return errs.Truncate(err.Error(), maxErrorLength)
}
