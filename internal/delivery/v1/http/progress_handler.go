package http

import (
	"net/http"

	"github.com/DRSN-tech/match-service/internal/progress"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type ProgressHandler struct {
	tracker *progress.Tracker
	logger  logger.Logger
}

func NewProgressHandler(tracker *progress.Tracker, logger logger.Logger) *ProgressHandler {
	return &ProgressHandler{tracker: tracker, logger: logger}
}

type ProgressResponse struct {
	JobID    string `json:"job_id"`
	Kind     string `json:"kind"`
	Expected int64  `json:"expected"`
	Done     int64  `json:"done"`
}

// getProgress возвращает текущие счётчики обработки для задачи.
// kind задаётся query-параметром, по умолчанию "match".
func (p *ProgressHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		p.logger.Warnf("%d progress request without job_id", http.StatusBadRequest)
		WriteError(w, e.ErrJobIDRequired)
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "match"
	}

	expected, done := p.tracker.Get(jobID, kind)

	WriteSuccess(w, http.StatusOK, &ProgressResponse{
		JobID:    jobID,
		Kind:     kind,
		Expected: expected,
		Done:     done,
	})
}
