package history

import (
	"context"

	"github.com/kubev2v/cutout/internal/store"
	"github.com/kubev2v/cutout/internal/store/model"
)

// StoreWriter archives records in the history table.
type StoreWriter struct {
	history store.History
}

func NewStoreWriter(h store.History) *StoreWriter {
	return &StoreWriter{history: h}
}

func (s *StoreWriter) Write(ctx context.Context, record model.JobRecord) error {
	_, err := s.history.Create(ctx, record)
	return err
}

// Close leaves the database open; the store owns it.
func (s *StoreWriter) Close(_ context.Context) error {
	return nil
}
