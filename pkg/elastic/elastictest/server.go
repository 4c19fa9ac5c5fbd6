// Package elastictest runs an in-process HTTP server that speaks enough of
// the Elasticsearch REST API for the ETL client: ping, index HEAD/PUT and
// _bulk with index actions.
package elastictest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// BulkRequest is one received _bulk call.
type BulkRequest struct {
	Index   string
	Actions []Action
}

// Action is one index action of a bulk call.
type Action struct {
	Op    string
	Index string
	ID    string
	Doc   json.RawMessage
}

// Server is a fake Elasticsearch node.
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	indices        map[string]string
	docs           map[string]map[string]json.RawMessage
	bulks          []BulkRequest
	creates        int
	failBulk       int
	rejectIDs      map[string]bool
	existsOnCreate bool
	unacknowledged bool
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		indices:   make(map[string]string),
		docs:      make(map[string]map[string]json.RawMessage),
		rejectIDs: make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailBulk makes the next n bulk calls answer 503.
func (s *Server) FailBulk(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBulk = n
}

// RejectID makes every bulk item with id fail with a mapping error.
func (s *Server) RejectID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectIDs[id] = true
}

// AcceptID clears a RejectID.
func (s *Server) AcceptID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rejectIDs, id)
}

// RaceCreate makes the next index creation behave as if another writer
// created the index between the existence check and the PUT.
func (s *Server) RaceCreate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsOnCreate = true
}

// Unacknowledged makes index creation answer acknowledged=false.
func (s *Server) Unacknowledged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unacknowledged = true
}

// AddIndex registers index as existing.
func (s *Server) AddIndex(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[index] = "{}"
}

// Mapping returns the body index was created with.
func (s *Server) Mapping(index string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.indices[index]
	return body, ok
}

// Creates returns the number of PUT index calls received.
func (s *Server) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Bulks returns every successfully parsed bulk call.
func (s *Server) Bulks() []BulkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BulkRequest(nil), s.bulks...)
}

// Doc returns the stored source of id in index.
func (s *Server) Doc(index, id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[index][id]
	return doc, ok
}

// Count returns the number of documents stored in index.
func (s *Server) Count(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[index])
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.URL.Path == "/" && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		writeJSON(w, http.StatusOK, map[string]any{
			"name":    "fake",
			"version": map[string]any{"number": "7.17.0"},
			"tagline": "You Know, for Search",
		})
	case len(parts) == 1 && parts[0] == "_bulk":
		s.bulk(w, r, "")
	case len(parts) == 2 && parts[1] == "_bulk":
		s.bulk(w, r, parts[0])
	case len(parts) == 1 && r.Method == http.MethodHead:
		s.mu.Lock()
		_, ok := s.indices[parts[0]]
		s.mu.Unlock()
		if ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.create(w, r, parts[0])
	default:
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "no handler for "+r.Method+" "+r.URL.Path, http.StatusNotFound))
	}
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, index string) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.existsOnCreate {
		s.existsOnCreate = false
		s.indices[index] = "{}"
	}
	if _, ok := s.indices[index]; ok {
		writeJSON(w, http.StatusBadRequest, errorBody(
			"resource_already_exists_exception",
			fmt.Sprintf("index [%s/abc] already exists", index),
			http.StatusBadRequest,
		))
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorBody("parse_exception", "invalid body", http.StatusBadRequest))
		return
	}
	s.indices[index] = string(body)
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged":        !s.unacknowledged,
		"shards_acknowledged": !s.unacknowledged,
		"index":               index,
	})
}

func (s *Server) bulk(w http.ResponseWriter, r *http.Request, defaultIndex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBulk > 0 {
		s.failBulk--
		writeJSON(w, http.StatusServiceUnavailable, errorBody("unavailable_shards_exception", "primary shard is not active", http.StatusServiceUnavailable))
		return
	}

	req := BulkRequest{Index: defaultIndex}
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines [][]byte
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	if len(lines)%2 != 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("illegal_argument_exception", "odd number of bulk lines", http.StatusBadRequest))
		return
	}

	items := make([]map[string]any, 0, len(lines)/2)
	hasErrors := false
	for i := 0; i < len(lines); i += 2 {
		var meta map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(lines[i], &meta); err != nil || len(meta) != 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("illegal_argument_exception", "malformed action line", http.StatusBadRequest))
			return
		}
		for op, m := range meta {
			action := Action{Op: op, Index: m.Index, ID: m.ID, Doc: json.RawMessage(lines[i+1])}
			if action.Index == "" {
				action.Index = defaultIndex
			}
			req.Actions = append(req.Actions, action)

			result := map[string]any{"_index": action.Index, "_id": action.ID}
			if s.rejectIDs[action.ID] {
				hasErrors = true
				result["status"] = http.StatusBadRequest
				result["error"] = map[string]any{
					"type":   "strict_dynamic_mapping_exception",
					"reason": "mapping set to strict, dynamic introduction of [extra] is not allowed",
				}
			} else {
				if s.docs[action.Index] == nil {
					s.docs[action.Index] = make(map[string]json.RawMessage)
				}
				_, existed := s.docs[action.Index][action.ID]
				s.docs[action.Index][action.ID] = action.Doc
				result["status"] = http.StatusCreated
				result["result"] = "created"
				if existed {
					result["status"] = http.StatusOK
					result["result"] = "updated"
				}
			}
			items = append(items, map[string]any{op: result})
		}
	}
	s.bulks = append(s.bulks, req)
	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": hasErrors, "items": items})
}

func errorBody(kind, reason string, status int) map[string]any {
	return map[string]any{
		"error":  map[string]any{"type": kind, "reason": reason},
		"status": status,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
