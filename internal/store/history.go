package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kubev2v/cutout/internal/store/model"
)

type History interface {
	List(ctx context.Context, filter *HistoryQueryFilter, opts *HistoryQueryOptions) (model.JobRecordList, error)
	Get(ctx context.Context, id uuid.UUID) (*model.JobRecord, error)
	Create(ctx context.Context, record model.JobRecord) (*model.JobRecord, error)
	// DeleteBefore drops records finished before t and returns how many went.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
	InitialMigration(context.Context) error
}

type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) History {
	return &HistoryStore{db: db}
}

func (h *HistoryStore) InitialMigration(ctx context.Context) error {
	return h.db.WithContext(ctx).AutoMigrate(&model.JobRecord{})
}

// List lists the archived jobs.
func (h *HistoryStore) List(ctx context.Context, filter *HistoryQueryFilter, opts *HistoryQueryOptions) (model.JobRecordList, error) {
	var records model.JobRecordList
	tx := h.db.WithContext(ctx)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Model(&records).Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func (h *HistoryStore) Get(ctx context.Context, id uuid.UUID) (*model.JobRecord, error) {
	record := model.JobRecord{ID: id}
	if err := h.db.WithContext(ctx).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Create archives a record. A zero ID gets a fresh one.
func (h *HistoryStore) Create(ctx context.Context, record model.JobRecord) (*model.JobRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}
	if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &record, nil
}

func (h *HistoryStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	result := h.db.WithContext(ctx).Where("finished_at < ?", t).Delete(&model.JobRecord{})
	return result.RowsAffected, result.Error
}
