package repository

import (
	"mirrorctl/internal/db"
	"mirrorctl/internal/model"
)

type OperationRepository struct{}

func NewOperationRepository() *OperationRepository {
	return &OperationRepository{}
}

func (r *OperationRepository) Save(op *model.Operation) error {
	return db.DB.Create(op).Error
}

func (r *OperationRepository) GetRecent(limit int) ([]model.Operation, error) {
	var ops []model.Operation
	result := db.DB.
		Order("at desc").
		Order("id desc").
		Limit(limit).
		Find(&ops)

	return ops, result.Error
}

func (r *OperationRepository) GetByJob(job string, limit int) ([]model.Operation, error) {
	var ops []model.Operation
	result := db.DB.
		Where("job = ?", job).
		Order("at desc").
		Order("id desc").
		Limit(limit).
		Find(&ops)

	return ops, result.Error
}

// GetFailed returns failed operations, optionally only those on job.
func (r *OperationRepository) GetFailed(job string, limit int) ([]model.Operation, error) {
	var ops []model.Operation
	q := db.DB.Where("success = ?", false)
	if job != "" {
		q = q.Where("job = ?", job)
	}
	result := q.
		Order("at desc").
		Order("id desc").
		Limit(limit).
		Find(&ops)

	return ops, result.Error
}
