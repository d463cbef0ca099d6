// Package figmatest provides an in-process fake of the Figma REST API.
package figmatest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/ritzau/ds-audit/pkg/figma"
)

// Token is the only token the fake accepts unless overridden.
const Token = "figd_test_token"

// Server is a fake Figma API serving a fixed set of nodes.
type Server struct {
	*httptest.Server

	token string

	mu    sync.RWMutex
	files map[string]map[string]*figma.Node

	fetches atomic.Int32
}

// NewServer starts a fake API. Call Close when done.
func NewServer() *Server {
	s := &Server{
		token: Token,
		files: make(map[string]map[string]*figma.Node),
	}

	r := mux.NewRouter()
	r.Use(s.auth)
	r.HandleFunc("/v1/me", s.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/v1/files/{key}/nodes", s.handleNodes).Methods(http.MethodGet)
	s.Server = httptest.NewServer(r)
	return s
}

// AddFrame registers a node under fileKey. The node id is taken from n.
func (s *Server) AddFrame(fileKey string, n *figma.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[fileKey] == nil {
		s.files[fileKey] = make(map[string]*figma.Node)
	}
	s.files[fileKey][n.ID] = n
}

// Fetches returns how many node requests were served.
func (s *Server) Fetches() int {
	return int(s.fetches.Load())
}

// FrameURL returns a design URL addressing the given frame.
func (s *Server) FrameURL(fileKey, nodeID string) string {
	return "https://www.figma.com/design/" + fileKey + "/Test?node-id=" + strings.ReplaceAll(nodeID, ":", "-")
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Figma-Token") != s.token {
			http.Error(w, `{"status":403,"err":"Invalid token"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"id": "1", "handle": "tester"})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.fetches.Add(1)
	key := mux.Vars(r)["key"]

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, ok := s.files[key]
	if !ok {
		http.Error(w, `{"status":404,"err":"Not found"}`, http.StatusNotFound)
		return
	}

	type entry struct {
		Document *figma.Node `json:"document"`
	}
	nodes := make(map[string]*entry)
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if n, ok := file[id]; ok {
			nodes[id] = &entry{Document: n}
		}
	}
	writeJSON(w, map[string]any{"name": key, "nodes": nodes})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// CheckoutFrame returns a frame with one connected instance and one local
// component: 50% compliance.
func CheckoutFrame() *figma.Node {
	return &figma.Node{
		ID:   "1:2",
		Name: "Checkout",
		Type: figma.TypeFrame,
		Children: []*figma.Node{
			{ID: "1:3", Name: "Button", Type: figma.TypeInstance, ComponentID: "c:1"},
			{ID: "1:4", Name: "Card", Type: figma.TypeComponent},
		},
	}
}
