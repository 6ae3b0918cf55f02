package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kubev2v/cutout/internal/config"
	"github.com/kubev2v/cutout/internal/history"
	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/store"
	"github.com/kubev2v/cutout/internal/store/model"
)

type testWriter struct {
	mu      sync.Mutex
	records []model.JobRecord
	block   chan struct{}
	err     error
	closed  bool
}

func newTestWriter() *testWriter {
	return &testWriter{}
}

func (t *testWriter) Write(ctx context.Context, record model.JobRecord) error {
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, record)
	return t.err
}

func (t *testWriter) Close(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *testWriter) Records() []model.JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.JobRecord(nil), t.records...)
}

func (t *testWriter) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func jobIDs(records []model.JobRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.JobID)
	}
	return ids
}

var _ = Describe("producer", func() {
	Context("write", func() {
		It("writes records in order", func() {
			w := newTestWriter()
			p := history.NewProducer(w)
			defer p.Close()

			Expect(p.Write(model.JobRecord{JobID: "a"})).To(Succeed())
			Expect(p.Write(model.JobRecord{JobID: "b"})).To(Succeed())
			Expect(p.Write(model.JobRecord{JobID: "c"})).To(Succeed())

			Eventually(func() []string { return jobIDs(w.Records()) }).Should(Equal([]string{"a", "b", "c"}))
		})

		It("keeps going after a write error", func() {
			w := newTestWriter()
			w.err = errors.New("disk full")
			p := history.NewProducer(w)
			defer p.Close()

			Expect(p.Write(model.JobRecord{JobID: "a"})).To(Succeed())
			Expect(p.Write(model.JobRecord{JobID: "b"})).To(Succeed())
			Eventually(func() int { return len(w.Records()) }).Should(Equal(2))
		})

		It("drops records when the buffer is full", func() {
			w := newTestWriter()
			w.block = make(chan struct{})
			p := history.NewProducer(w, history.WithMaxPending(2))

			Expect(p.Write(model.JobRecord{JobID: "a"})).To(Succeed())
			// a is taken by the writer and blocks there
			Eventually(p.Pending).Should(Equal(0))
			Expect(p.Write(model.JobRecord{JobID: "b"})).To(Succeed())
			Expect(p.Write(model.JobRecord{JobID: "c"})).To(Succeed())
			Expect(p.Write(model.JobRecord{JobID: "d"})).To(Succeed())
			Expect(p.Pending()).To(Equal(2))

			close(w.block)
			Expect(p.Close()).To(Succeed())
			Expect(jobIDs(w.Records())).To(Equal([]string{"a", "b", "c"}))
		})
	})

	Context("close", func() {
		It("flushes pending records and closes the writer", func() {
			w := newTestWriter()
			w.block = make(chan struct{})
			p := history.NewProducer(w)

			for _, id := range []string{"a", "b", "c"} {
				Expect(p.Write(model.JobRecord{JobID: id})).To(Succeed())
			}
			close(w.block)

			Expect(p.Close()).To(Succeed())
			Expect(jobIDs(w.Records())).To(Equal([]string{"a", "b", "c"}))
			Expect(w.Closed()).To(BeTrue())
		})

		It("refuses writes once closed", func() {
			p := history.NewProducer(newTestWriter())
			Expect(p.Close()).To(Succeed())
			Expect(p.Write(model.JobRecord{JobID: "late"})).To(MatchError(history.ErrClosed))
			Expect(p.Close()).To(Succeed())
		})
	})
})

var _ = Describe("recorder", func() {
	It("archives finished jobs through the producer", func() {
		w := newTestWriter()
		p := history.NewProducer(w)
		defer p.Close()

		var obs stage.Observer = history.NewRecorder(p)
		created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		obs.JobFinished(stage.NamePostprocess, jobs.Job{
			ID:        "j1",
			Name:      "cat.png",
			Status:    jobs.StatusCompleted,
			Result:    []byte{1, 2, 3},
			CreatedAt: created,
			UpdatedAt: created.Add(time.Second),
		})
		obs.JobFinished(stage.NamePreprocess, jobs.Job{ID: "j2", Name: "bad.png", Status: jobs.StatusError, Error: "unsupported image"})

		Eventually(func() int { return len(w.Records()) }).Should(Equal(2))
		records := w.Records()
		Expect(records[0].JobID).To(Equal("j1"))
		Expect(records[0].Stage).To(Equal(stage.NamePostprocess))
		Expect(records[0].Status).To(Equal(string(jobs.StatusCompleted)))
		Expect(records[0].ResultSize).To(Equal(3))
		Expect(records[0].FinishedAt).To(Equal(created.Add(time.Second)))
		Expect(records[1].Error).To(Equal("unsupported image"))
		Expect(records[1].FinishedAt.IsZero()).To(BeFalse())
	})

	It("logs records finished after the producer closed", func() {
		core, logs := observer.New(zap.DebugLevel)
		defer zap.ReplaceGlobals(zap.New(core))()

		w := newTestWriter()
		p := history.NewProducer(w)
		Expect(p.Close()).To(Succeed())

		history.NewRecorder(p).JobFinished(stage.NamePostprocess, jobs.Job{ID: "late", Status: jobs.StatusCompleted})

		Expect(w.Records()).To(BeEmpty())
		entries := logs.FilterMessage("dropping record").All()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].ContextMap()).To(HaveKeyWithValue("job_id", "late"))
		Expect(entries[0].ContextMap()).To(HaveKeyWithValue("error", history.ErrClosed.Error()))
	})
})

var _ = Describe("store writer", func() {
	It("persists records in the history table", func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "history.db")
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		s := store.NewStore(db)
		defer s.Close()
		Expect(s.InitialMigration(context.TODO())).To(Succeed())

		p := history.NewProducer(history.NewStoreWriter(s.History()))
		Expect(p.Write(model.JobRecord{JobID: "j1", Name: "cat.png", Status: "completed"})).To(Succeed())
		Expect(p.Close()).To(Succeed())

		records, err := s.History().List(context.TODO(), store.NewHistoryQueryFilter().ByJobID("j1"), nil)
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Name).To(Equal("cat.png"))
	})
})
