package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	maxBodyBytes = 1 << 20
)

type Server struct {
	feed     ports.FeedService
	activity ports.ActivityService
}

func NewServer(feed ports.FeedService, activity ports.ActivityService) *Server {
	return &Server{feed: feed, activity: activity}
}

// Register branche les routes sur le mux (patterns Go 1.22 : méthode + wildcards)
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/feed", s.getFeed)
	mux.HandleFunc("GET /v1/feed/default", s.getDefaultFeed)

	mux.HandleFunc("POST /v1/users/{id}/follow", s.followUser)
	mux.HandleFunc("DELETE /v1/users/{id}/follow", s.unfollowUser)
	mux.HandleFunc("GET /v1/users/{id}/followers", s.listFollowers)
	mux.HandleFunc("GET /v1/users/{id}/following", s.listFollowing)

	mux.HandleFunc("POST /v1/channels", s.createChannel)
	mux.HandleFunc("POST /v1/channels/{slug}/follow", s.followChannel)
	mux.HandleFunc("DELETE /v1/channels/{slug}/follow", s.unfollowChannel)
	mux.HandleFunc("POST /v1/channels/{slug}/connections", s.connectBlock)
}

// --- FEED ---

type feedResponse struct {
	Items  []*domain.FeedEntry `json:"items"`
	Offset int64               `json:"offset"`
	Limit  int64               `json:"limit"`
	Total  int64               `json:"total"`
}

// getFeed : feed personnel si authentifié, feed global sinon
func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	if userID == "" {
		s.getDefaultFeed(w, r)
		return
	}

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := parseInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, r, fmt.Errorf("%w: offset", domain.ErrInvalidArgument))
		return
	}

	req := domain.FeedRequest{UserID: userID, Limit: int64(limit), Offset: int64(offset)}
	items, err := s.feed.GetFeed(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.feed.FeedSize(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse{Items: items, Offset: req.Offset, Limit: req.Limit, Total: total})
}

func (s *Server) getDefaultFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.feed.GetDefaultFeed(r.Context(), domain.DefaultFeedRequest{
		ChannelCursor: q.Get("channel_cursor"),
		BlockCursor:   q.Get("block_cursor"),
		Limit:         limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// --- FOLLOW ---

func (s *Server) followUser(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actorID string) error {
		return s.activity.FollowUser(r.Context(), actorID, r.PathValue("id"))
	})
}

func (s *Server) unfollowUser(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actorID string) error {
		return s.activity.UnfollowUser(r.Context(), actorID, r.PathValue("id"))
	})
}

func (s *Server) followChannel(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actorID string) error {
		return s.activity.FollowChannel(r.Context(), actorID, r.PathValue("slug"))
	})
}

func (s *Server) unfollowChannel(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actorID string) error {
		return s.activity.UnfollowChannel(r.Context(), actorID, r.PathValue("slug"))
	})
}

func (s *Server) listFollowers(w http.ResponseWriter, r *http.Request) {
	refs, err := s.activity.Followers(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"followers": refs})
}

func (s *Server) listFollowing(w http.ResponseWriter, r *http.Request) {
	refs, err := s.activity.Following(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"following": refs})
}

// --- CHANNELS ---

type createChannelRequest struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	actorID := UserFromContext(r.Context())
	if actorID == "" {
		writeError(w, r, errUnauthenticated)
		return
	}

	var body createChannelRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	status := domain.ChannelStatus(body.Status)
	switch status {
	case "", domain.ChannelPublic, domain.ChannelClosed, domain.ChannelPrivate:
	default:
		writeError(w, r, fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, body.Status))
		return
	}

	ch, err := s.activity.CreateChannel(r.Context(), actorID, domain.CreateChannelCmd{Title: body.Title, Status: status})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

type connectBlockRequest struct {
	BlockID string `json:"block_id"`
}

func (s *Server) connectBlock(w http.ResponseWriter, r *http.Request) {
	actorID := UserFromContext(r.Context())
	if actorID == "" {
		writeError(w, r, errUnauthenticated)
		return
	}

	var body connectBlockRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.activity.ConnectBlock(r.Context(), actorID, r.PathValue("slug"), body.BlockID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- HELPERS ---

// withActor exige un utilisateur authentifié et répond 204 en cas de succès
func (s *Server) withActor(w http.ResponseWriter, r *http.Request, fn func(actorID string) error) {
	actorID := UserFromContext(r.Context())
	if actorID == "" {
		writeError(w, r, errUnauthenticated)
		return
	}
	if err := fn(actorID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// parseLimit : défaut 20, plafonné à 100
func parseLimit(raw string) (int, error) {
	limit, err := parseInt(raw, DefaultLimit)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit", domain.ErrInvalidArgument)
	}
	return min(limit, MaxLimit), nil
}

func parseInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
