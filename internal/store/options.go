package store

import (
	"time"

	"gorm.io/gorm"
)

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortByFinishedTime
	SortByFinishedTimeDesc
	SortByName
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type HistoryQueryFilter BaseQuerier

func NewHistoryQueryFilter() *HistoryQueryFilter {
	return &HistoryQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *HistoryQueryFilter) ByJobID(jobID string) *HistoryQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("job_id = ?", jobID)
	})
	return f
}

func (f *HistoryQueryFilter) ByStatus(statuses ...string) *HistoryQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	return f
}

func (f *HistoryQueryFilter) ByStage(stage string) *HistoryQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("stage = ?", stage)
	})
	return f
}

// FinishedAfter keeps records finished strictly after t.
func (f *HistoryQueryFilter) FinishedAfter(t time.Time) *HistoryQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("finished_at > ?", t)
	})
	return f
}

type HistoryQueryOptions BaseQuerier

func NewHistoryQueryOptions() *HistoryQueryOptions {
	return &HistoryQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *HistoryQueryOptions) WithSortOrder(sort SortOrder) *HistoryQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByFinishedTime:
			return tx.Order("finished_at")
		case SortByFinishedTimeDesc:
			return tx.Order("finished_at DESC")
		case SortByName:
			return tx.Order("name")
		default:
			return tx
		}
	})
	return o
}

func (o *HistoryQueryOptions) WithLimit(limit int) *HistoryQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	})
	return o
}
