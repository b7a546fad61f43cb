package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"waconsole/internal/constants"
	apperrors "waconsole/internal/errors"
	"waconsole/internal/middleware"
	"waconsole/internal/models"
	"waconsole/internal/service"
	"waconsole/internal/validation"
	"waconsole/pkg/circuitbreaker"
	"waconsole/pkg/stream"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	maxJSONBodyBytes   = 1 << 20
	multipartOverhead  = 1 << 20
	healthCheckTimeout = 2 * time.Second
)

// mutationReader is the part of the journal the API reads from.
type mutationReader interface {
	ListMutations(ctx context.Context, conversationID string, limit int) ([]models.Mutation, error)
	HealthCheck(ctx context.Context) error
}

type Server struct {
	router         *mux.Router
	logger         *logrus.Logger
	console        *service.Console
	journal        mutationReader
	cfg            models.ServerConfig
	maxUploadBytes int64
	breakerStats   func() circuitbreaker.Stats
	clients        atomic.Int64
	server         *http.Server

	// done ends hijacked event connections, which http.Server.Shutdown does not track.
	done     context.Context
	stopDone context.CancelFunc
}

func NewServer(cfg models.ServerConfig, maxUploadBytes int64, console *service.Console, journal mutationReader, logger *logrus.Logger) *Server {
	done, stopDone := context.WithCancel(context.Background())
	s := &Server{
		done:           done,
		stopDone:       stopDone,
		router:         mux.NewRouter(),
		logger:         logger,
		console:        console,
		journal:        journal,
		cfg:            cfg,
		maxUploadBytes: maxUploadBytes,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst), "/health"))
	s.router.Use(middleware.APIKeyMiddleware(s.cfg.APIToken, "/health"))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents()).Methods(http.MethodGet)
	api.HandleFunc("/stream/reconnect", s.handleReconnect()).Methods(http.MethodPost)
	api.HandleFunc("/bot", s.handleGetGlobalBot()).Methods(http.MethodGet)
	api.HandleFunc("/bot", s.handleSetGlobalBot()).Methods(http.MethodPut)
	api.HandleFunc("/mutations", s.handleMutations()).Methods(http.MethodGet)

	api.HandleFunc("/conversations", s.handleConversations()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/more", s.handleMoreConversations()).Methods(http.MethodPost)

	conv := api.PathPrefix("/conversations/{id}").Subrouter()
	conv.HandleFunc("", s.handleConversation()).Methods(http.MethodGet)
	conv.HandleFunc("/select", s.handleSelect()).Methods(http.MethodPost)
	conv.HandleFunc("/messages", s.handleMessages()).Methods(http.MethodGet)
	conv.HandleFunc("/messages", s.handleSendText()).Methods(http.MethodPost)
	conv.HandleFunc("/messages/older", s.handleOlder()).Methods(http.MethodPost)
	conv.HandleFunc("/media", s.handleSendMedia()).Methods(http.MethodPost)
	conv.HandleFunc("/read", s.handleMarkRead()).Methods(http.MethodPost)
	conv.HandleFunc("/bot", s.handleConversationBot()).Methods(http.MethodPut)
	conv.HandleFunc("/draft", s.handleGetDraft()).Methods(http.MethodGet)
	conv.HandleFunc("/draft", s.handleSetDraft()).Methods(http.MethodPut)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("port", s.cfg.Port).Info("Starting dashboard API")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stopDone()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := s.console.Status()
		body := map[string]interface{}{
			"status":  "healthy",
			"stream":  status.Stream.State,
			"journal": "ok",
		}
		code := http.StatusOK
		if err := s.journal.HealthCheck(ctx); err != nil {
			s.logger.WithError(err).Warn("Journal health check failed")
			body["status"] = "unhealthy"
			body["journal"] = "unavailable"
			code = http.StatusServiceUnavailable
		} else if status.Stream.State != stream.StateConnected {
			body["status"] = "degraded"
		}
		middleware.WriteJSON(w, code, body)
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, s.console.Status())
	}
}

func (s *Server) handleReconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.console.Reconnect()
		middleware.WriteJSON(w, http.StatusAccepted, s.console.Status())
	}
}

type conversationList struct {
	Conversations []models.Conversation `json:"conversations"`
	HasMore       bool                  `json:"has_more"`
}

func (s *Server) handleConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, conversationList{
			Conversations: s.console.Directory.List(),
			HasMore:       s.console.Directory.HasMore(),
		})
	}
}

func (s *Server) handleMoreConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cursor string `json:"cursor"`
		}
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		page, err := s.console.Directory.FetchMore(r.Context(), req.Cursor)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if page == nil {
			page = []models.Conversation{}
		}
		middleware.WriteJSON(w, http.StatusOK, conversationList{
			Conversations: page,
			HasMore:       s.console.Directory.HasMore(),
		})
	}
}

func (s *Server) handleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		conv, found := s.console.Directory.Get(id)
		if !found {
			middleware.WriteError(w, r, apperrors.NewNotFoundError("conversation", id))
			return
		}
		middleware.WriteJSON(w, http.StatusOK, conv)
	}
}

type threadView struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	HasOlder       bool             `json:"has_older"`
	Added          *int             `json:"added,omitempty"`
	NewMessageIDs  []string         `json:"new_message_ids,omitempty"`
}

func (s *Server) thread(id string) threadView {
	view := threadView{
		ConversationID: id,
		Messages:       s.console.Timeline.Messages(id),
		HasOlder:       s.console.Timeline.HasOlder(id),
	}
	if sel := s.console.Selection(); sel.ConversationID == id {
		view.NewMessageIDs = sel.NewMessageIDs
	}
	return view
}

func (s *Server) handleSelect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		if _, err := s.console.Select(r.Context(), id); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, s.thread(id))
	}
}

func (s *Server) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		middleware.WriteJSON(w, http.StatusOK, s.thread(id))
	}
}

func (s *Server) handleOlder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		added, err := s.console.Timeline.LoadOlder(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		view := s.thread(id)
		view.Added = &added
		middleware.WriteJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleSendText() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		var req struct {
			Body string `json:"body"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		msg, err := s.console.SendText(r.Context(), id, req.Body)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleSendMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
		if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				middleware.WriteError(w, r, apperrors.NewMediaRejectedError("file exceeds the upload size limit"))
				return
			}
			middleware.WriteError(w, r, apperrors.NewValidationError("file", "", "expected a multipart form"))
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, header, err := r.FormFile("file")
		if err != nil {
			middleware.WriteError(w, r, apperrors.NewValidationError("file", "", "missing file part"))
			return
		}
		defer file.Close()

		msg, err := s.console.SendMedia(r.Context(), id, service.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     file,
			Caption:     r.FormValue("caption"),
		})
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		if err := s.console.Gateway.MarkRead(r.Context(), id); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		s.writeConversation(w, r, id)
	}
}

func (s *Server) handleConversationBot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		enabled, err := decodeEnabled(w, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if err := s.console.Gateway.ToggleConversationBot(r.Context(), id, enabled); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		s.writeConversation(w, r, id)
	}
}

func (s *Server) writeConversation(w http.ResponseWriter, r *http.Request, id string) {
	if conv, found := s.console.Directory.Get(id); found {
		middleware.WriteJSON(w, http.StatusOK, conv)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetGlobalBot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, s.console.Dispatcher.GlobalBot())
	}
}

func (s *Server) handleSetGlobalBot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, err := decodeEnabled(w, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if err := s.console.Gateway.ToggleGlobalBot(r.Context(), enabled); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, s.console.Dispatcher.GlobalBot())
	}
}

func (s *Server) handleGetDraft() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"text": s.console.Draft(id)})
	}
}

func (s *Server) handleSetDraft() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		s.console.SetDraft(id, req.Text)
		w.WriteHeader(http.StatusNoContent)
	}
}

type mutationList struct {
	Pending []models.Mutation `json:"pending"`
	History []models.Mutation `json:"history"`
}

func (s *Server) handleMutations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := constants.DefaultMutationListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > constants.MaxPageSize {
				middleware.WriteError(w, r, apperrors.NewValidationError("limit", raw,
					fmt.Sprintf("must be between 1 and %d", constants.MaxPageSize)))
				return
			}
			limit = n
		}
		convID := r.URL.Query().Get("conversation_id")

		history, err := s.journal.ListMutations(r.Context(), convID, limit)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		pending := s.console.Gateway.Pending()
		if convID != "" {
			filtered := pending[:0]
			for _, m := range pending {
				if m.ConversationID == convID {
					filtered = append(filtered, m)
				}
			}
			pending = filtered
		}
		if history == nil {
			history = []models.Mutation{}
		}
		middleware.WriteJSON(w, http.StatusOK, mutationList{Pending: pending, History: history})
	}
}

func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := validation.ValidateConversationID(id); err != nil {
		middleware.WriteError(w, r, err)
		return "", false
	}
	return id, true
}

func decodeEnabled(w http.ResponseWriter, r *http.Request) (bool, error) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return false, err
	}
	if req.Enabled == nil {
		return false, apperrors.NewValidationError("enabled", "", "is required")
	}
	return *req.Enabled, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := decodeBody(w, r, v); err != nil {
		return apperrors.NewValidationError("body", "", "invalid JSON body: "+err.Error())
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves v untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := decodeBody(w, r, v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperrors.NewValidationError("body", "", "invalid JSON body: "+err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
