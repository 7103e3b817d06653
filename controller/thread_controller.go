package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/usecase"
)

type ThreadController struct {
	threads *usecase.ThreadUsecase
	typing  *usecase.TypingUsecase
	logger  zerolog.Logger
}

func NewThreadController(threads *usecase.ThreadUsecase, typing *usecase.TypingUsecase, logger zerolog.Logger) *ThreadController {
	return &ThreadController{threads: threads, typing: typing, logger: logger}
}

type createThreadRequest struct {
	TravelerID    string      `json:"traveler_id"`
	GuideID       string      `json:"guide_id"`
	InitialBudget model.Money `json:"initial_budget"`
	TourRequestID string      `json:"tour_request_id"`
}

type appendMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
	ClientID    string   `json:"client_id"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type markReadRequest struct {
	Seq int64 `json:"seq"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// SnapshotResponse is the thread as the viewer sees it plus who is typing.
type SnapshotResponse struct {
	Thread *model.Thread  `json:"thread"`
	Typing []model.Typing `json:"typing"`
}

func (c *ThreadController) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, c.logger, err)
		return
	}
	t, err := c.threads.CreateThread(r.Context(), Party(r.Context()), usecase.CreateThreadInput{
		TravelerID:    req.TravelerID,
		GuideID:       req.GuideID,
		InitialBudget: req.InitialBudget,
		TourRequestID: req.TourRequestID,
	})
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (c *ThreadController) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := c.threads.ListThreads(r.Context(), Party(r.Context()))
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	if threads == nil {
		threads = []model.Thread{}
	}
	writeJSON(w, http.StatusOK, threads)
}

func (c *ThreadController) GetThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := Party(ctx)
	id := chi.URLParam(r, "id")

	t, err := c.threads.GetSnapshot(ctx, id, viewer)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	typing, err := c.typing.Active(ctx, id, viewer)
	if err != nil {
		// presence is best effort
		c.logger.Warn().Err(err).Str("thread_id", id).Msg("load typing state")
	}
	if typing == nil {
		typing = []model.Typing{}
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{Thread: t, Typing: typing})
}

func (c *ThreadController) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, c.logger, err)
		return
	}
	m, err := c.threads.AppendMessage(r.Context(), chi.URLParam(r, "id"), Party(r.Context()), usecase.AppendMessageInput{
		Content:     req.Content,
		Attachments: req.Attachments,
		ClientID:    req.ClientID,
	})
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (c *ThreadController) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, c.logger, err)
		return
	}
	m, err := c.threads.EditMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "msgID"), Party(r.Context()), req.Content)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (c *ThreadController) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	m, err := c.threads.DeleteMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "msgID"), Party(r.Context()))
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (c *ThreadController) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, c.logger, err)
		return
	}
	t, err := c.threads.MarkRead(r.Context(), chi.URLParam(r, "id"), Party(r.Context()), req.Seq)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (c *ThreadController) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, c.logger, err)
		return
	}
	t, err := c.threads.Cancel(r.Context(), chi.URLParam(r, "id"), Party(r.Context()), req.Reason)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (c *ThreadController) Reject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, c.logger, err)
		return
	}
	t, err := c.threads.Reject(r.Context(), chi.URLParam(r, "id"), Party(r.Context()), req.Reason)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
