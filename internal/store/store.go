package store

import (
	"context"

	"github.com/kubev2v/cutout/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	History() History
	InitialMigration(ctx context.Context) error
	Statistics(ctx context.Context) (model.HistoryStats, error)
	Close() error
}

type DataStore struct {
	db      *gorm.DB
	history History
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:      db,
		history: NewHistoryStore(db),
	}
}

func (s *DataStore) History() History {
	return s.history
}

func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.history.InitialMigration(ctx)
}

func (s *DataStore) Statistics(ctx context.Context) (model.HistoryStats, error) {
	var rows []struct {
		Status string
		Total  int
	}
	if err := s.db.WithContext(ctx).Model(&model.JobRecord{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return model.HistoryStats{}, err
	}

	stats := model.HistoryStats{ByStatus: make(map[string]int, len(rows))}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.Total
		stats.Total += r.Total
	}
	return stats, nil
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
