// Package api exposes the tracked mempool over HTTP: synchronous
// GET queries for count/status/spend, and a chunked,
// newline-delimited JSON feed of count changes for subscribers that
// want a push rather than a poll. It is the concrete downstream
// fan-out the state machine's PublishFunc was left unspecified for.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/breez/mempooltracker/build"
	"github.com/breez/mempooltracker/mempool"
)

var log = build.NewSubLogger("API")

// Tracker is the subset of *mempool.Tracker the server queries.
type Tracker interface {
	GetCount() int
	GetStatus(txid string) mempool.Status
	LookupSpend(prevTxid string, prevVout uint32) (mempool.SpendResult, bool)
}

// Server answers queries against a Tracker and fans out count-change
// notifications to any client connected to /stream.
type Server struct {
	tracker Tracker
	router  *mux.Router

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
}

// NewServer builds a Server with its routes registered. Call
// Publish as the tracker's PublishFunc to drive /stream.
func NewServer(tracker Tracker) *Server {
	s := &Server{
		tracker:     tracker,
		subscribers: make(map[chan []byte]struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/count", s.handleCount).Methods(http.MethodGet)
	r.HandleFunc("/status/{txid}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/spend/{txid}/{vout}", s.handleSpend).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	s.router = r

	return s
}

// SetTracker attaches the Tracker queries are answered against,
// letting the server be constructed (and its Publish method handed
// to mempool.NewTracker) before the Tracker itself exists.
func (s *Server) SetTracker(tracker Tracker) {
	s.tracker = tracker
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve listens on addr and blocks serving the query API, in the
// manner of this codebase's rpcserver listener setup.
func (s *Server) Serve(addr net.Addr) error {
	log.Infof("api server listening on %v", addr)
	lis, err := net.Listen(addr.Network(), addr.String())
	if err != nil {
		return err
	}
	return http.Serve(lis, s)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Count int `json:"count"`
	}{Count: s.tracker.GetCount()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]
	status := s.tracker.GetStatus(txid)
	writeJSON(w, struct {
		Txid   string `json:"txid"`
		Status string `json:"status"`
	}{Txid: txid, Status: status.String()})
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	txid := vars["txid"]
	vout, err := strconv.ParseUint(vars["vout"], 10, 32)
	if err != nil {
		http.Error(w, "invalid vout", http.StatusBadRequest)
		return
	}

	result, ok := s.tracker.LookupSpend(txid, uint32(vout))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, struct {
		Spender string `json:"spender"`
		Index   uint32 `json:"index"`
	}{Spender: result.Spender, Index: result.Index})
}

// handleStream holds the connection open and writes one JSON object
// per line every time Publish is called, until the client
// disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan []byte, 16)
	s.addSubscriber(ch)
	defer s.removeSubscriber(ch)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(append(payload, '\n')); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) addSubscriber(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[ch] = struct{}{}
}

func (s *Server) removeSubscriber(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, ch)
	close(ch)
}

// Publish implements mempool.PublishFunc, broadcasting a count-change
// payload to every currently connected /stream client. A subscriber
// whose buffer is full misses this payload rather than being allowed
// to backpressure the tracker's single-writer goroutine; it stays
// subscribed and receives later payloads once it has room.
func (s *Server) Publish(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
			log.Warnf("skipping payload for slow /stream subscriber")
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("writing response: %v", err)
	}
}
