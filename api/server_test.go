package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/breez/mempooltracker/mempool"
)

type stubTracker struct {
	count  int
	status map[string]mempool.Status
	spends map[string]mempool.SpendResult
}

func (s *stubTracker) GetCount() int { return s.count }

func (s *stubTracker) GetStatus(txid string) mempool.Status {
	if st, ok := s.status[txid]; ok {
		return st
	}
	return mempool.StatusNew
}

func (s *stubTracker) LookupSpend(prevTxid string, prevVout uint32) (mempool.SpendResult, bool) {
	key := prevTxid
	res, ok := s.spends[key]
	return res, ok
}

func TestHandleCount(t *testing.T) {
	s := NewServer(&stubTracker{count: 42})

	req := httptest.NewRequest(http.MethodGet, "/count", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 42 {
		t.Fatalf("count = %d, want 42", body.Count)
	}
}

func TestHandleStatus(t *testing.T) {
	s := NewServer(&stubTracker{status: map[string]mempool.Status{
		"aa": mempool.StatusLive,
	}})

	req := httptest.NewRequest(http.MethodGet, "/status/aa", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Status != mempool.StatusLive.String() {
		t.Fatalf("status = %s, want %s", body.Status, mempool.StatusLive.String())
	}
}

func TestHandleSpendNotFound(t *testing.T) {
	s := NewServer(&stubTracker{spends: map[string]mempool.SpendResult{}})

	req := httptest.NewRequest(http.MethodGet, "/spend/pp/0", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSpendFound(t *testing.T) {
	s := NewServer(&stubTracker{spends: map[string]mempool.SpendResult{
		"pp": {Spender: "aa", Index: 0},
	}})

	req := httptest.NewRequest(http.MethodGet, "/spend/pp/0", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var body struct {
		Spender string `json:"spender"`
		Index   uint32 `json:"index"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Spender != "aa" {
		t.Fatalf("spender = %s, want aa", body.Spender)
	}
}

func TestPublishBroadcastsToSubscribers(t *testing.T) {
	s := NewServer(&stubTracker{})

	ch := make(chan []byte, 1)
	s.addSubscriber(ch)
	defer s.removeSubscriber(ch)

	s.Publish([]byte(`{"type":"count","count":1}`))

	select {
	case payload := <-ch:
		if string(payload) != `{"type":"count","count":1}` {
			t.Fatalf("unexpected payload: %s", payload)
		}
	default:
		t.Fatalf("expected subscriber to receive published payload")
	}
}

func TestPublishSkipsSlowSubscriber(t *testing.T) {
	s := NewServer(&stubTracker{})

	ch := make(chan []byte) // unbuffered, never read
	s.addSubscriber(ch)
	defer s.removeSubscriber(ch)

	// Must not block even though nothing drains ch.
	s.Publish([]byte("1"))
	s.Publish([]byte("2"))
}
