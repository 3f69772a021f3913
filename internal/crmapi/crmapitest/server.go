// Package crmapitest provides an in-memory CRM messaging backend for tests.
//
// Messages are kept in insertion order, which the fake treats as
// chronological. Listings return the newest page first, items newest first,
// and an opaque cursor that walks back in time.
package crmapitest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/timestamp"
)

// Endpoint names accepted by Fail.
const (
	EndpointMessages      = "messages"
	EndpointConversations = "conversations"
	EndpointMarkRead      = "mark_read"
	EndpointSend          = "send"
)

// Request is one recorded request.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Header   http.Header
	Endpoint string
}

// SendCall is one accepted POST /messages/send body.
type SendCall struct {
	Content       string `json:"contenido"`
	OpportunityID int64  `json:"oportunidad_id"`
	OwnerID       *int64 `json:"responsable_id,omitempty"`
	Channel       string `json:"canal"`
}

// MarkReadCall is one accepted POST /messages/mark-read body.
type MarkReadCall struct {
	OpportunityID    *int64 `json:"opportunity_id,omitempty"`
	ContactID        *int64 `json:"contact_id,omitempty"`
	ContactReference string `json:"contact_reference,omitempty"`
}

type failure struct {
	status int
	detail string
}

// Server is a fake CRM backend.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	messages  []crm.Message
	names     map[string]string
	owners    map[string]int64
	token     string
	failures  map[string][]failure
	requests  []Request
	sends     []SendCall
	markReads []MarkReadCall
	nextID    int64
	now       func() time.Time
	hooks     map[string]func()
}

// NewServer starts a fake backend. It is closed when the test ends.
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		names:    make(map[string]string),
		owners:   make(map[string]int64),
		failures: make(map[string][]failure),
		hooks:    make(map[string]func()),
		nextID:   1,
		now:      time.Now,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.authenticate)
	r.Use(s.injectFailures)

	r.Get("/messages/cursor", s.handleMessages)
	r.Post("/messages/mark-read", s.handleMarkRead)
	r.Post("/messages/send", s.handleSend)
	r.Get("/conversations", s.handleConversations)
	return r
}

// RequireToken makes every request without "Bearer token" fail with 401.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetClock replaces the clock used to stamp sent messages.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Fail queues a failure for the next request to endpoint.
func (s *Server) Fail(endpoint string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], failure{status: status, detail: detail})
}

// OnRequest runs fn (outside the server lock) before each request to
// endpoint is served. Tests use it to hold a request in flight.
func (s *Server) OnRequest(endpoint string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[endpoint] = fn
}

// Add appends messages as the newest of their conversations. A zero ID is
// replaced by the next free id. The stored messages are returned.
func (s *Server) Add(msgs ...crm.Message) []crm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == 0 {
			m.ID = s.nextID
		}
		if m.ID >= s.nextID {
			s.nextID = m.ID + 1
		}
		if m.Channel == "" {
			m.Channel = crm.ChannelWhatsApp
		}
		if m.Direction == "" {
			m.Direction = crm.DirectionInbound
		}
		m.ResolvedAt = time.Time{}
		s.messages = append(s.messages, m)
		out = append(out, m)
	}
	return out
}

// Update replaces a stored message by id, e.g. to simulate an edit.
func (s *Server) Update(m crm.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == m.ID {
			m.ResolvedAt = time.Time{}
			s.messages[i] = m
			return true
		}
	}
	return false
}

// SetName sets the display name of the conversation addressed by target.
func (s *Server) SetName(target crm.Target, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[target.Key()] = name
}

// SetOwner assigns the conversation addressed by target to an owner.
func (s *Server) SetOwner(target crm.Target, ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[target.Key()] = ownerID
}

// Messages returns a copy of every stored message.
func (s *Server) Messages() []crm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return crm.CloneMessages(s.messages)
}

// Requests returns the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests reached endpoint.
func (s *Server) Count(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Endpoint == endpoint {
			n++
		}
	}
	return n
}

// Sends returns the accepted send bodies.
func (s *Server) Sends() []SendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendCall, len(s.sends))
	copy(out, s.sends)
	return out
}

// MarkReads returns the accepted mark-read bodies.
func (s *Server) MarkReads() []MarkReadCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MarkReadCall, len(s.markReads))
	copy(out, s.markReads)
	return out
}

func endpointOf(r *http.Request) string {
	switch r.URL.Path {
	case "/messages/cursor":
		return EndpointMessages
	case "/messages/mark-read":
		return EndpointMarkRead
	case "/messages/send":
		return EndpointSend
	case "/conversations":
		return EndpointConversations
	default:
		return ""
	}
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := endpointOf(r)
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:   r.Method,
			Path:     r.URL.Path,
			Query:    r.URL.Query(),
			Header:   r.Header.Clone(),
			Endpoint: endpoint,
		})
		hook := s.hooks[endpoint]
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := endpointOf(r)
		s.mu.Lock()
		queue := s.failures[endpoint]
		var f *failure
		if len(queue) > 0 {
			f = &queue[0]
			s.failures[endpoint] = queue[1:]
		}
		s.mu.Unlock()
		if f != nil {
			writeDetail(w, f.status, f.detail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type listing[T any] struct {
	Data       []T     `json:"data"`
	NextCursor *string `json:"next_cursor"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := pageParams(w, q)
	if !ok {
		return
	}
	match, ok := conversationFilter(w, q)
	if !ok {
		return
	}
	channel := q.Get("channel")

	s.mu.Lock()
	var matched []crm.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if channel != "" && string(m.Channel) != channel {
			continue
		}
		if match(m) {
			matched = append(matched, m)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, paginate(matched, offset, limit))
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := pageParams(w, q)
	if !ok {
		return
	}
	var ownerID int64
	if raw := q.Get("owner_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "owner_id must be an integer")
			return
		}
		ownerID = id
	}
	channel := q.Get("channel")

	s.mu.Lock()
	convs := s.conversationsLocked(channel, ownerID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, paginate(convs, offset, limit))
}

// conversationsLocked groups stored messages by identity, newest activity first.
func (s *Server) conversationsLocked(channel string, ownerID int64) []crm.Conversation {
	type entry struct {
		conv  crm.Conversation
		order int
	}
	byKey := make(map[string]*entry)
	for i, m := range s.messages {
		if channel != "" && string(m.Channel) != channel {
			continue
		}
		key := crm.Identify(m)
		if ownerID > 0 && s.owners[key] != ownerID {
			continue
		}
		e, ok := byKey[key]
		if !ok {
			e = &entry{conv: crm.Conversation{
				ID:               key,
				DisplayName:      s.names[key],
				OpportunityID:    m.OpportunityID,
				ContactID:        m.ContactID,
				ContactReference: m.ContactReference,
			}}
			byKey[key] = e
		}
		last := m
		e.conv.LastMessage = &last
		e.order = i
		if m.Unread() {
			e.conv.UnreadCount++
		}
	}
	entries := make([]*entry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order > entries[j].order })
	out := make([]crm.Conversation, len(entries))
	for i, e := range entries {
		out[i] = e.conv
	}
	return out
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var body MarkReadCall
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	var target crm.Target
	switch {
	case body.OpportunityID != nil:
		target = crm.ForOpportunity(*body.OpportunityID)
	case body.ContactID != nil:
		target = crm.ForContact(*body.ContactID)
	case body.ContactReference != "":
		target = crm.ForReference(body.ContactReference)
	default:
		writeDetail(w, http.StatusUnprocessableEntity, "opportunity_id, contact_id or contact_reference required")
		return
	}
	match := targetMatcher(target)

	s.mu.Lock()
	updated := 0
	for i := range s.messages {
		if match(s.messages[i]) && s.messages[i].Unread() {
			s.messages[i].Read = true
			updated++
		}
	}
	s.markReads = append(s.markReads, body)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body SendCall
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "contenido es requerido")
		return
	}
	if body.OpportunityID <= 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "oportunidad_id es requerido")
		return
	}

	s.mu.Lock()
	content := body.Content
	opp := body.OpportunityID
	m := crm.Message{
		ID:               s.nextID,
		Direction:        crm.DirectionOutbound,
		Channel:          crm.ParseChannel(body.Channel),
		Content:          &content,
		OpportunityID:    &opp,
		MessageTimestamp: timestamp.RawString(s.now().UTC().Format(time.RFC3339)),
		CreatedAt:        timestamp.RawString(s.now().UTC().Format(time.RFC3339)),
		Read:             true,
	}
	s.nextID++
	s.messages = append(s.messages, m)
	s.sends = append(s.sends, body)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, m)
}

func pageParams(w http.ResponseWriter, q url.Values) (limit, offset int, ok bool) {
	limit = 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = n
	}
	if raw := q.Get("cursor"); raw != "" {
		n, err := decodeCursor(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid cursor")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func conversationFilter(w http.ResponseWriter, q url.Values) (func(crm.Message) bool, bool) {
	if raw := q.Get("opportunity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "opportunity_id must be an integer")
			return nil, false
		}
		return targetMatcher(crm.ForOpportunity(id)), true
	}
	if raw := q.Get("contact_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "contact_id must be an integer")
			return nil, false
		}
		return targetMatcher(crm.ForContact(id)), true
	}
	if raw := q.Get("contact_reference"); raw != "" {
		return targetMatcher(crm.ForReference(raw)), true
	}
	writeDetail(w, http.StatusUnprocessableEntity, "opportunity_id, contact_id or contact_reference required")
	return nil, false
}

// targetMatcher selects the messages a backend filter returns: the raw
// column match, not the client's identity priority.
func targetMatcher(target crm.Target) func(crm.Message) bool {
	switch target.Kind {
	case crm.TargetOpportunity:
		return func(m crm.Message) bool { return m.OpportunityID != nil && *m.OpportunityID == target.OpportunityID }
	case crm.TargetContact:
		return func(m crm.Message) bool { return m.ContactID != nil && *m.ContactID == target.ContactID }
	case crm.TargetReference:
		return func(m crm.Message) bool { return m.ContactReference == target.Reference }
	default:
		return func(crm.Message) bool { return false }
	}
}

func paginate[T any](items []T, offset, limit int) listing[T] {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	page := listing[T]{Data: items[offset:end]}
	if page.Data == nil {
		page.Data = []T{}
	}
	if end < len(items) {
		next := encodeCursor(end)
		page.NextCursor = &next
	}
	return page
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	text, ok := strings.CutPrefix(string(raw), "o:")
	if !ok {
		return 0, fmt.Errorf("unknown cursor %q", cursor)
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unknown cursor %q", cursor)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
