package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/compose"
	jsonwriter "github.com/dgellow/xpost/internal/json"
	"github.com/dgellow/xpost/internal/log"
	"github.com/dgellow/xpost/internal/platform"
	"github.com/dgellow/xpost/internal/publish"
	"github.com/dgellow/xpost/internal/session"
)

// maxBodyBytes bounds request bodies; a full thread fits comfortably
const maxBodyBytes = 64 << 10

// PostHandlers serves the publishing and generation endpoints
type PostHandlers struct {
	store     session.Store
	publisher *publish.Publisher
	generator *compose.Generator
}

// NewPostHandlers creates new post handlers
func NewPostHandlers(store session.Store, publisher *publish.Publisher, generator *compose.Generator) *PostHandlers {
	return &PostHandlers{store: store, publisher: publisher, generator: generator}
}

type postRequest struct {
	Text string `json:"text"`
}

type postResponse struct {
	Success bool                `json:"success"`
	Post    *publish.PostResult `json:"tweet"`
}

type threadRequest struct {
	Posts []string `json:"tweets"`
}

type threadResponse struct {
	Success bool `json:"success"`
	*publish.ThreadResult
}

type timelineResponse struct {
	Posts []platform.Post `json:"tweets"`
}

type generateRequest struct {
	Topic string `json:"topic"`
	Tone  string `json:"tone"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("Invalid request body")
	}
	return nil
}

// authenticated loads the session and rejects anonymous requests
func (h *PostHandlers) authenticated(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s := h.store.Load(r)
	if s.State() != session.Authenticated {
		writeError(w, r, "api", apperr.ErrNotAuthenticated)
		return nil, false
	}
	return s, true
}

// PostHandler publishes a single post
func (h *PostHandlers) PostHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req postRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "api", err)
		return
	}

	res, err := h.publisher.SubmitPost(r.Context(), s, session.Bind(h.store, w, r), req.Text)
	if err != nil {
		writeError(w, r, "api", err)
		return
	}

	_ = jsonwriter.Write(w, postResponse{Success: true, Post: res})
}

// ThreadHandler publishes a reply chain. If it stops midway the response
// is a 502 that carries how many posts went out.
func (h *PostHandlers) ThreadHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req threadRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "api", err)
		return
	}

	res, err := h.publisher.SubmitThread(r.Context(), s, session.Bind(h.store, w, r), req.Posts)

	var partial *apperr.PartialThreadError
	if errors.As(err, &partial) {
		log.LogWarnWithFields("api", "Thread partially published", map[string]any{
			"posted":     partial.Posted,
			"total":      len(req.Posts),
			"error":      partial.Err,
			"request_id": RequestIDFromContext(r.Context()),
		})
		msg := fmt.Sprintf("Failed to post %d of %d: %s", partial.Posted+1, len(req.Posts), apperr.UserMessage(partial.Err))
		jsonwriter.WritePartial(w, http.StatusBadGateway, "partial_thread", msg, partial.Posted)
		return
	}
	if err != nil {
		writeError(w, r, "api", err)
		return
	}

	_ = jsonwriter.Write(w, threadResponse{Success: true, ThreadResult: res})
}

// TimelineHandler lists the user's recent posts. X failures yield an
// empty list.
func (h *PostHandlers) TimelineHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	posts, err := h.publisher.RecentPosts(r.Context(), s, session.Bind(h.store, w, r), platform.ClampTimelineLimit(limit))
	if err != nil {
		writeError(w, r, "api", err)
		return
	}

	_ = jsonwriter.Write(w, timelineResponse{Posts: posts})
}

// GenerateHandler suggests posts for a topic
func (h *PostHandlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticated(w, r); !ok {
		return
	}

	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "api", err)
		return
	}

	res, err := h.generator.Generate(r.Context(), req.Topic, req.Tone)
	if err != nil {
		writeError(w, r, "api", err)
		return
	}

	_ = jsonwriter.Write(w, res)
}
