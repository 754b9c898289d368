// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/madhans476/family-law-assistant/pkg/api"
	"github.com/madhans476/family-law-assistant/pkg/stream"
)

// DefaultAddr is the address the simulator listens on by default, chosen
// not to collide with the real backend's port 8000.
const DefaultAddr = ":12210"

// serviceVersion mirrors the backend version the simulator impersonates.
const serviceVersion = "2.1.0"

// serviceName is what GET / reports.
const serviceName = "Family Law Assistant API"

// timestampLayout is the backend's timezone-naive timestamp format.
const timestampLayout = "2006-01-02T15:04:05.000000"

// scenarioReloadDebounce coalesces the burst of filesystem events editors
// fire per save into one reload.
const scenarioReloadDebounce = 200 * time.Millisecond

// shutdownTimeout is how long Run waits for open streams on shutdown.
const shutdownTimeout = 5 * time.Second

// =============================================================================
// Configuration
// =============================================================================

// Config configures a simulator server.
type Config struct {
	// Addr is the listen address. Empty means DefaultAddr.
	Addr string

	// ScenarioPath is an optional scenario file. Empty uses the built-in
	// scenario. When set, the file is watched and hot-reloaded on change.
	ScenarioPath string

	// TokensPerSecond overrides the scenario's token pacing when > 0.
	TokensPerSecond float64

	// Debug enables gin's request logging.
	Debug bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Server
// =============================================================================

// conversationRecord is one conversation the history endpoints serve. The
// store starts from the scenario's fixtures and grows as chat turns
// complete.
type conversationRecord struct {
	messages     []api.HistoryMessage
	state        api.ConversationState
	userIntent   string
	lastModified time.Time
}

// Server is an assistant backend stand-in. One Server serves one scenario
// at a time; hot reload swaps the scenario and resets the history store.
type Server struct {
	cfg     Config
	log     *slog.Logger
	engine  *gin.Engine
	metrics *serverMetrics

	mu       sync.RWMutex
	scenario *Scenario
	store    map[string]*conversationRecord
}

// New creates a simulator server. The scenario comes from
// cfg.ScenarioPath when set, otherwise the built-in one.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var scenario *Scenario
	if cfg.ScenarioPath != "" {
		loaded, err := LoadScenario(cfg.ScenarioPath)
		if err != nil {
			return nil, err
		}
		scenario = loaded
	} else {
		scenario = DefaultScenario()
	}
	if cfg.TokensPerSecond > 0 {
		scenario.TokensPerSecond = cfg.TokensPerSecond
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  newServerMetrics(),
		scenario: scenario,
		store:    buildStore(scenario),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Debug {
		engine.Use(gin.Logger())
	}
	s.registerRoutes(engine)
	s.engine = engine

	return s, nil
}

// ScenarioName returns the active scenario's name.
func (s *Server) ScenarioName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scenario.Name
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Handler exposes the router, for tests that drive the server through
// httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled or the listener fails, then shuts
// down gracefully. Returns ctx.Err() after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	if s.cfg.ScenarioPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			s.log.Warn("scenario hot reload unavailable", "error", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(s.cfg.ScenarioPath); err != nil {
				s.log.Warn("cannot watch scenario file", "path", s.cfg.ScenarioPath, "error", err)
			} else {
				go s.watchScenario(ctx, watcher)
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.Info("simulator listening",
		"addr", s.cfg.Addr,
		"scenario", s.ScenarioName(),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

// watchScenario reloads the scenario when its file changes. Failed
// reloads keep the previous scenario.
func (s *Server) watchScenario(ctx context.Context, watcher *fsnotify.Watcher) {
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				pending = time.After(scenarioReloadDebounce)
			}
			// Editors that save by rename drop the watch on the old inode
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				_ = watcher.Add(s.cfg.ScenarioPath)
				pending = time.After(scenarioReloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("scenario watcher error", "error", err)

		case <-pending:
			pending = nil
			s.reloadScenario()
		}
	}
}

func (s *Server) reloadScenario() {
	scenario, err := LoadScenario(s.cfg.ScenarioPath)
	if err != nil {
		s.log.Warn("scenario reload failed, keeping the previous scenario", "error", err)
		return
	}
	if s.cfg.TokensPerSecond > 0 {
		scenario.TokensPerSecond = s.cfg.TokensPerSecond
	}

	s.mu.Lock()
	s.scenario = scenario
	s.store = buildStore(scenario)
	s.mu.Unlock()

	s.metrics.reloads.Inc()
	s.log.Info("scenario reloaded", "name", scenario.Name, "turns", len(scenario.Turns))
}

// buildStore seeds the history store from the scenario's fixtures.
func buildStore(scenario *Scenario) map[string]*conversationRecord {
	store := make(map[string]*conversationRecord, len(scenario.Conversations))
	for _, conv := range scenario.Conversations {
		messages := make([]api.HistoryMessage, 0, len(conv.Messages))
		for _, m := range conv.Messages {
			messages = append(messages, api.HistoryMessage{Role: m.Role, Content: m.Content})
		}

		lastModified := time.Now().UTC()
		if conv.LastModified != "" {
			if t, err := time.Parse(timestampLayout, conv.LastModified); err == nil {
				lastModified = t
			} else if t, err := time.Parse(time.RFC3339Nano, conv.LastModified); err == nil {
				lastModified = t
			}
		}

		store[conv.ConversationID] = &conversationRecord{
			messages: messages,
			state: api.ConversationState{
				UserIntent:        conv.State.UserIntent,
				InGatheringPhase:  conv.State.InGatheringPhase,
				InfoCollected:     conv.State.InfoCollected,
				InfoNeededList:    conv.State.InfoNeededList,
				GatheringStep:     conv.State.GatheringStep,
				AnalysisComplete:  conv.State.AnalysisComplete,
				HasSufficientInfo: conv.State.HasSufficientInfo,
				MessageType:       conv.State.MessageType,
			},
			userIntent:   conv.UserIntent,
			lastModified: lastModified,
		}
	}
	return store
}

// =============================================================================
// Routes
// =============================================================================

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.POST("/chat/stream", s.handleChatStream)
	engine.GET("/conversations", s.handleListConversations)
	engine.GET("/history/:id", s.handleGetHistory)
	engine.DELETE("/history/:id", s.handleDeleteHistory)
	engine.GET("/health", s.handleHealth)
	engine.GET("/", s.handleServiceInfo)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
}

// =============================================================================
// Chat Streaming
// =============================================================================

func (s *Server) handleChatStream(c *gin.Context) {
	var req api.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	req.EnsureDefaults()

	s.mu.RLock()
	scenario := s.scenario
	s.mu.RUnlock()

	turn := scenario.FindTurn(req.Query)
	if turn == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No scenario turn matches the query"})
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = mintConversationID(time.Now())
	}

	s.log.Info("turn started",
		"conversation_id", conversationID,
		"request_id", req.RequestID,
		"match", turn.Match,
	)
	s.metrics.turns.Inc()
	s.metrics.activeStreams.Inc()
	defer s.metrics.activeStreams.Dec()

	writer, err := newFrameWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var limiter *rate.Limiter
	if scenario.TokensPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(scenario.TokensPerSecond), 1)
	}

	ctx := c.Request.Context()

	// The real backend opens every stream by announcing the conversation
	if len(turn.Events) == 0 || turn.Events[0].Type != string(stream.StreamEventMetadata) {
		if werr := writer.writeEvent(Event{
			Type:           string(stream.StreamEventMetadata),
			ConversationID: conversationID,
		}); werr != nil {
			return
		}
	}

	recorded := false
	for _, ev := range turn.Events {
		if ev.DelayMs > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(ev.DelayMs) * time.Millisecond):
			}
		}
		if limiter != nil && ev.Type == string(stream.StreamEventToken) {
			if lerr := limiter.Wait(ctx); lerr != nil {
				return
			}
		}
		if ev.Type == string(stream.StreamEventMetadata) && ev.ConversationID == "" {
			ev.ConversationID = conversationID
		}

		// Persist before the done frame goes out, so a client that fetches
		// history the moment its turn completes already sees it. Turns that
		// never reach done are not persisted.
		if ev.Type == string(stream.StreamEventDone) && !recorded {
			s.recordTurn(conversationID, req.Query, turn)
			recorded = true
		}

		if werr := writer.writeEvent(ev); werr != nil {
			s.log.Debug("client disconnected mid-stream",
				"conversation_id", conversationID,
				"error", werr,
			)
			return
		}

		if ev.Type == string(stream.StreamEventToken) {
			s.metrics.tokens.Inc()
		}
		if ev.CloseStream {
			return
		}
	}
}

// recordTurn appends the query and the turn's outcome to the conversation
// so the history endpoints reflect live chats.
func (s *Server) recordTurn(conversationID, query string, turn *Turn) {
	response, state := deriveOutcome(turn)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.store[conversationID]
	if !ok {
		rec = &conversationRecord{userIntent: deriveUserIntent(query)}
		s.store[conversationID] = rec
	}
	rec.messages = append(rec.messages,
		api.HistoryMessage{Role: api.RoleHuman, Content: query},
		api.HistoryMessage{Role: api.RoleAI, Content: response},
	)
	state.GatheringStep = rec.state.GatheringStep
	if state.InGatheringPhase {
		state.GatheringStep++
	}
	rec.state = state
	rec.lastModified = time.Now().UTC()
}

// deriveOutcome reduces a scripted turn to the answer text and state the
// backend would have persisted.
func deriveOutcome(turn *Turn) (string, api.ConversationState) {
	var tokens strings.Builder
	var response string
	var state api.ConversationState

	for _, ev := range turn.Events {
		switch ev.Type {
		case string(stream.StreamEventToken):
			tokens.WriteString(ev.Content)

		case string(stream.StreamEventInformationGathering):
			state.InGatheringPhase = true
			state.InfoCollected = ev.InfoCollected
			state.InfoNeededList = ev.InfoNeeded

		case string(stream.StreamEventDone):
			response = ev.Response
			state.MessageType = ev.MessageType
			if len(ev.InfoCollected) > 0 {
				state.InfoCollected = ev.InfoCollected
			}
			if len(ev.InfoNeeded) > 0 {
				state.InfoNeededList = ev.InfoNeeded
			}
			if ev.MessageType == stream.MessageTypeFinalResponse {
				state.InGatheringPhase = false
				state.AnalysisComplete = true
				state.HasSufficientInfo = true
			}
		}
	}

	if response == "" {
		response = tokens.String()
	}
	return response, state
}

// deriveUserIntent summarizes a first query the way the backend labels
// conversations in listings.
func deriveUserIntent(query string) string {
	const maxIntent = 60
	runes := []rune(strings.TrimSpace(query))
	if len(runes) <= maxIntent {
		return string(runes)
	}
	return string(runes[:maxIntent]) + "..."
}

// mintConversationID formats a new conversation ID the way the backend
// does: conv_YYYYMMDD_HHMMSS.
func mintConversationID(now time.Time) string {
	return "conv_" + now.UTC().Format("20060102_150405")
}

// =============================================================================
// Frame Writer
// =============================================================================

// frameWriter writes wire frames: a data: prefix, the JSON payload, and a
// blank line, flushed immediately so tokens render as they arrive.
type frameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newFrameWriter(w http.ResponseWriter) (*frameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &frameWriter{w: w, flusher: flusher}, nil
}

func (f *frameWriter) writeEvent(ev Event) error {
	if ev.Raw != "" {
		return f.writeFrame([]byte(ev.Raw), ev.SplitAt)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.writeFrame(payload, ev.SplitAt)
}

// writeFrame sends one frame, optionally flushed in two pieces to force
// the client to reassemble across reads.
func (f *frameWriter) writeFrame(payload []byte, splitAt int) error {
	frame := make([]byte, 0, len(stream.DataPrefix)+len(payload)+2)
	frame = append(frame, stream.DataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')

	if splitAt > 0 && splitAt < len(frame) {
		if _, err := f.w.Write(frame[:splitAt]); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		f.flusher.Flush()
		if _, err := f.w.Write(frame[splitAt:]); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		f.flusher.Flush()
		return nil
	}

	if _, err := f.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	f.flusher.Flush()
	return nil
}

// =============================================================================
// History Endpoints
// =============================================================================

func (s *Server) handleListConversations(c *gin.Context) {
	type entry struct {
		summary      api.ConversationSummary
		lastModified time.Time
	}

	s.mu.RLock()
	entries := make([]entry, 0, len(s.store))
	for id, rec := range s.store {
		entries = append(entries, entry{
			summary: api.ConversationSummary{
				ConversationID: id,
				LastModified:   rec.lastModified.Format(timestampLayout),
				MessageCount:   len(rec.messages),
				Status:         rec.state.Status(),
				UserIntent:     rec.userIntent,
			},
			lastModified: rec.lastModified,
		})
	}
	s.mu.RUnlock()

	// Newest first, the order the backend promises
	slices.SortFunc(entries, func(a, b entry) int {
		return b.lastModified.Compare(a.lastModified)
	})

	resp := api.ConversationsResponse{Conversations: make([]api.ConversationSummary, 0, len(entries))}
	for _, e := range entries {
		resp.Conversations = append(resp.Conversations, e.summary)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetHistory(c *gin.Context) {
	id := c.Param("id")

	s.mu.RLock()
	rec, ok := s.store[id]
	var resp api.ConversationHistory
	if ok {
		resp = api.ConversationHistory{
			Messages:    slices.Clone(rec.messages),
			State:       rec.state,
			LastUpdated: rec.lastModified.Format(timestampLayout),
		}
	}
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	_, ok := s.store[id]
	if ok {
		delete(s.store, id)
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, api.DeleteResponse{
		Message: fmt.Sprintf("Conversation %s deleted successfully", id),
	})
}

// =============================================================================
// Monitoring Endpoints
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:    api.HealthStatusHealthy,
		Timestamp: time.Now().UTC().Format(timestampLayout),
		Version:   serviceVersion,
	})
}

func (s *Server) handleServiceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, api.ServiceInfo{
		Name:    serviceName,
		Version: serviceVersion,
		Status:  "running",
		Features: []string{
			"multi_turn_conversations",
			"streaming_responses",
			"conversation_history",
		},
	})
}

// =============================================================================
// Metrics
// =============================================================================

// serverMetrics live on a private registry so several servers can coexist
// in one process.
type serverMetrics struct {
	registry      *prometheus.Registry
	turns         prometheus.Counter
	tokens        prometheus.Counter
	activeStreams prometheus.Gauge
	reloads       prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "simulator",
			Name:      "turns_total",
			Help:      "Chat turns served.",
		}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "simulator",
			Name:      "tokens_streamed_total",
			Help:      "Token events streamed.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "counsel",
			Subsystem: "simulator",
			Name:      "active_streams",
			Help:      "Streams currently open.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "simulator",
			Name:      "scenario_reloads_total",
			Help:      "Successful scenario hot reloads.",
		}),
	}
	m.registry.MustRegister(m.turns, m.tokens, m.activeStreams, m.reloads)
	return m
}
