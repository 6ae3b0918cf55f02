package apiserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/loop"
	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/kubev2v/cutout/internal/store"
	"github.com/kubev2v/cutout/internal/store/model"
	"github.com/kubev2v/cutout/pkg/requestid"
)

const (
	uploadField        = "image"
	defaultHistorySize = 100
)

type handler struct {
	pipeline       Pipeline
	history        store.History
	maxUploadBytes int64
}

type HealthReply struct {
	Status string `json:"status"`
}

type JobListReply struct {
	Jobs []pipeline.JobView `json:"jobs"`
}

type JobReply struct {
	pipeline.JobView
}

type JobCreatedReply struct {
	ID string `json:"id"`
}

type BatchReply struct {
	BatchActive bool `json:"batchActive"`
}

type StatusReply struct {
	pipeline.Status
}

type HistoryReply struct {
	Records model.JobRecordList `json:"records"`
}

type ErrorReply struct {
	HTTPStatus int    `json:"-"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId,omitempty"`
}

func (HealthReply) Render(http.ResponseWriter, *http.Request) error  { return nil }
func (JobListReply) Render(http.ResponseWriter, *http.Request) error { return nil }
func (JobReply) Render(http.ResponseWriter, *http.Request) error     { return nil }
func (StatusReply) Render(http.ResponseWriter, *http.Request) error  { return nil }
func (HistoryReply) Render(http.ResponseWriter, *http.Request) error { return nil }

func (JobCreatedReply) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusCreated)
	return nil
}

func (BatchReply) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusAccepted)
	return nil
}

func (e ErrorReply) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatus)
	return nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	_ = render.Render(w, r, HealthReply{Status: "ok"})
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	views, err := h.pipeline.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_ = render.Render(w, r, JobListReply{Jobs: views})
}

// addJob accepts a multipart form with an "image" file field, or the raw
// image as the body with the name in the "name" query parameter.
func (h *handler) addJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	name, data, err := readUpload(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id, err := h.pipeline.AddJob(r.Context(), name, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_ = render.Render(w, r, JobCreatedReply{ID: id})
}

func readUpload(r *http.Request) (string, []byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile(uploadField)
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return "", nil, newBadRequest("missing %q form field", uploadField)
			}
			return "", nil, err
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		return header.Filename, data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	return name, data, nil
}

func (h *handler) clearJobs(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.ClearAll(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.pipeline.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_ = render.Render(w, r, JobReply{JobView: view})
}

func (h *handler) removeJob(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.RemoveJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getResult(w http.ResponseWriter, r *http.Request) {
	data, err := h.pipeline.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *handler) startBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.StartBatch(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	_ = render.Render(w, r, BatchReply{BatchActive: true})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.pipeline.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_ = render.Render(w, r, StatusReply{Status: st})
}

// listHistory supports the "status" (comma separated), "stage" and "limit"
// query parameters.
func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.reply(w, r, ErrorReply{HTTPStatus: http.StatusNotFound, Message: "job history is disabled"})
		return
	}

	query := r.URL.Query()
	filter := store.NewHistoryQueryFilter()
	if statuses := query.Get("status"); statuses != "" {
		filter = filter.ByStatus(strings.Split(statuses, ",")...)
	}
	if stageName := query.Get("stage"); stageName != "" {
		filter = filter.ByStage(stageName)
	}

	limit := defaultHistorySize
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(w, r, newBadRequest("invalid limit %q", v))
			return
		}
		limit = n
	}

	records, err := h.history.List(r.Context(), filter,
		store.NewHistoryQueryOptions().WithSortOrder(store.SortByFinishedTimeDesc).WithLimit(limit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_ = render.Render(w, r, HistoryReply{Records: records})
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	reply := ErrorReply{HTTPStatus: httpStatus(err), Message: err.Error()}
	if reply.HTTPStatus >= http.StatusInternalServerError {
		zap.S().Named("api_server").Errorw("request failed", "path", r.URL.Path, "error", err, "request_id", requestid.FromRequest(r))
	}
	h.reply(w, r, reply)
}

func (h *handler) reply(w http.ResponseWriter, r *http.Request, reply ErrorReply) {
	reply.RequestID = requestid.FromRequest(r)
	_ = render.Render(w, r, reply)
}

func httpStatus(err error) int {
	var (
		notFound   *pipeline.ErrJobNotFound
		noResult   *pipeline.ErrNoResult
		badRequest *ErrBadRequest
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, store.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &noResult):
		return http.StatusConflict
	case errors.As(err, &badRequest), errors.Is(err, pipeline.ErrEmptyUpload):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, loop.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
