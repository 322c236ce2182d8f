// Package bwtest provides an in-process fake of the `bw serve` Vault
// Management API for tests.
package bwtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nvinuesa/kdbx2bw/internal/bitwarden"
)

// Password is the master password the fake accepts by default.
const Password = "bwpassword"

// Request is one request received by the fake.
type Request struct {
	Method string
	Route  string // chi route pattern, e.g. "/object/item/{id}"
	Path   string
	Query  map[string]string
	Body   []byte
}

// Attachment is an uploaded attachment.
type Attachment struct {
	ItemID   string
	Filename string
	Data     []byte
}

type failure struct {
	status int
	body   string
}

// Server is a fake `bw serve`. Item searches match on a name substring and
// ignore organization and collection scoping, like a fuzzy remote search.
type Server struct {
	*httptest.Server

	Password string

	mu            sync.Mutex
	requests      []Request
	collections   []bitwarden.Collection
	collectionIDs map[string]string
	items         []bitwarden.Item
	attachments   []Attachment
	failures      map[string]failure
	nextID        int
}

// NewServer starts a fake server closed at the end of the test.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		Password:      Password,
		collectionIDs: make(map[string]string),
		failures:      make(map[string]failure),
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Post("/unlock", s.unlock)
	r.Get("/list/object/org-collections", s.listCollections)
	r.Post("/object/org-collection", s.createCollection)
	r.Get("/list/object/items", s.listItems)
	r.Post("/object/item", s.createItem)
	r.Delete("/object/item/{id}", s.deleteItem)
	r.Post("/attachment", s.addAttachment)
	r.Post("/sync", s.sync)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AddCollection registers an existing collection.
func (s *Server) AddCollection(c bitwarden.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = append(s.collections, c)
}

// SetCollectionID fixes the id handed out when a collection with that name is
// created. Other collections get sequential ids.
func (s *Server) SetCollectionID(name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionIDs[name] = id
}

// AddItem registers an existing item and returns it with its id set.
func (s *Server) AddItem(item bitwarden.Item) bitwarden.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = s.newID("item")
	}
	s.items = append(s.items, item)
	return item
}

// FailOn makes every request matching method and route pattern fail with
// status and body. A JSON body is served as application/json.
func (s *Server) FailOn(method, route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+route] = failure{status: status, body: body}
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests matched method and route pattern.
func (s *Server) Count(method, route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Route == route {
			n++
		}
	}
	return n
}

// Items returns the items currently stored.
func (s *Server) Items() []bitwarden.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bitwarden.Item(nil), s.items...)
}

// Collections returns the collections currently stored.
func (s *Server) Collections() []bitwarden.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bitwarden.Collection(nil), s.collections...)
}

// Attachments returns the uploaded attachments.
func (s *Server) Attachments() []Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attachment(nil), s.attachments...)
}

// newID must be called with mu held.
func (s *Server) newID(kind string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", kind, s.nextID)
}

// record stores the request with its route pattern and answers with an
// injected failure when one is configured.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		q := make(map[string]string)
		for k, v := range r.URL.Query() {
			q[k] = strings.Join(v, ",")
		}

		s.mu.Lock()
		idx := len(s.requests)
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  q,
			Body:   body,
		})
		s.mu.Unlock()

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.Routes != nil {
			tctx := chi.NewRouteContext()
			if rctx.Routes.Match(tctx, r.Method, r.URL.Path) {
				route = tctx.RoutePattern()
			}
		}

		s.mu.Lock()
		s.requests[idx].Route = route
		f, fail := s.failures[r.Method+" "+route]
		s.mu.Unlock()

		if fail {
			if json.Valid([]byte(f.body)) {
				w.Header().Set("Content-Type", "application/json")
			}
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeList[T any](w http.ResponseWriter, data []T) {
	if data == nil {
		data = []T{}
	}
	writeData(w, map[string]any{"object": "list", "data": data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Password != s.Password {
		writeFailure(w, http.StatusBadRequest, "Invalid master password.")
		return
	}
	writeData(w, map[string]any{"noColor": false, "object": "message", "title": "Your vault is now unlocked!"})
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organizationid")
	s.mu.Lock()
	var out []bitwarden.Collection
	for _, c := range s.collections {
		if c.OrganizationID == orgID {
			out = append(out, c)
		}
	}
	s.mu.Unlock()
	writeList(w, out)
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req bitwarden.CollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid body")
		return
	}
	orgID := r.URL.Query().Get("organizationid")
	if orgID == "" || orgID != req.OrganizationID {
		writeFailure(w, http.StatusBadRequest, "organization mismatch")
		return
	}

	s.mu.Lock()
	id, ok := s.collectionIDs[req.Name]
	if !ok {
		id = s.newID("collection")
	}
	c := bitwarden.Collection{ID: id, OrganizationID: orgID, Name: req.Name}
	s.collections = append(s.collections, c)
	s.mu.Unlock()

	writeData(w, c)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	s.mu.Lock()
	var out []bitwarden.Item
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Name), search) {
			out = append(out, item)
		}
	}
	s.mu.Unlock()
	writeList(w, out)
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var item bitwarden.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	item.ID = s.newID("item")
	s.items = append(s.items, item)
	s.mu.Unlock()
	writeData(w, item)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"success":true}`)
			return
		}
	}
	writeFailure(w, http.StatusNotFound, "Not found.")
}

func (s *Server) addAttachment(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("itemid")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "unreadable file")
		return
	}

	s.mu.Lock()
	var found *bitwarden.Item
	for i := range s.items {
		if s.items[i].ID == itemID {
			found = &s.items[i]
		}
	}
	if found == nil {
		s.mu.Unlock()
		writeFailure(w, http.StatusNotFound, "Not found.")
		return
	}
	s.attachments = append(s.attachments, Attachment{ItemID: itemID, Filename: header.Filename, Data: data})
	item := *found
	s.mu.Unlock()

	writeData(w, item)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{"object": "message", "title": "Syncing complete."})
}
