// Package rpcpool adapts a small pool of btcd rpcclient connections
// to the mempool package's RPCClient interface, rate limited so a
// burst of batch backfill requests cannot overrun the node's RPC
// server. Modeled on this codebase's daemon/chainregistry.go
// bitcoind ConnConfig wiring.
package rpcpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcutil"
	"golang.org/x/time/rate"

	"github.com/breez/mempooltracker/mempool"
)

// Pool is a fixed-size round-robin set of rpcclient.Client
// connections to a single node, rate limited in aggregate.
type Pool struct {
	clients []*rpcclient.Client
	limiter *rate.Limiter
	next    uint64
}

// Config mirrors the subset of mempoolcfg.Config the pool needs,
// kept separate so this package doesn't import mempoolcfg directly.
type Config struct {
	Host        string
	User        string
	Pass        string
	CookiePath  string
	DisableTLS  bool
	PoolCount   int
	PoolSize    int
}

// New creates PoolCount independent HTTP POST mode clients for the
// node, in the manner of chainregistry.go's bitcoind
// rpcclient.ConnConfig. No connection is opened until the first call.
func New(cfg Config) (*Pool, error) {
	if cfg.PoolCount <= 0 {
		cfg.PoolCount = 1
	}

	connCfg := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		Cookie:               cfg.CookiePath != "",
		CookiePath:           cfg.CookiePath,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
		DisableTLS:           cfg.DisableTLS,
		HTTPPostMode:         true,
	}

	clients := make([]*rpcclient.Client, cfg.PoolCount)
	for i := 0; i < cfg.PoolCount; i++ {
		c, err := rpcclient.New(connCfg, nil)
		if err != nil {
			for _, prior := range clients[:i] {
				prior.Shutdown()
			}
			return nil, fmt.Errorf("dialing rpc connection %d: %w", i, err)
		}
		clients[i] = c
	}

	limit := rate.Limit(cfg.PoolSize)
	if cfg.PoolSize <= 0 {
		limit = rate.Inf
	}

	return &Pool{
		clients: clients,
		limiter: rate.NewLimiter(limit, cfg.PoolSize+1),
	}, nil
}

// Shutdown closes every pooled connection.
func (p *Pool) Shutdown() {
	for _, c := range p.clients {
		c.Shutdown()
	}
}

func (p *Pool) pick() *rpcclient.Client {
	idx := atomic.AddUint64(&p.next, 1)
	return p.clients[idx%uint64(len(p.clients))]
}

// Request implements mempool.RPCClient for a single JSON-RPC call.
func (p *Pool) Request(method string, params ...interface{}) (mempool.RPCResult, error) {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return mempool.RPCResult{}, err
	}

	raw := make([]json.RawMessage, len(params))
	for i, param := range params {
		encoded, err := json.Marshal(param)
		if err != nil {
			return mempool.RPCResult{}, err
		}
		raw[i] = encoded
	}

	client := p.pick()
	result, err := client.RawRequest(method, raw)
	if err != nil {
		return mempool.RPCResult{}, err
	}

	return mempool.RPCResult{Status: 200, Body: result}, nil
}

// BatchRequest implements mempool.RPCClient by fanning requests out
// across the pool, each one individually rate limited exactly like a
// single Request call; the node sees a bounded request rate whether
// the caller issues one call at a time or a 50-item backfill batch.
func (p *Pool) BatchRequest(items []mempool.BatchItem, keyed bool) ([]mempool.BatchResult, error) {
	results := make([]mempool.BatchResult, len(items))

	type outcome struct {
		idx    int
		result mempool.RPCResult
		err    error
	}
	out := make(chan outcome, len(items))

	for i, item := range items {
		go func(i int, item mempool.BatchItem) {
			res, err := p.Request(item.Method, item.Params...)
			out <- outcome{idx: i, result: res, err: err}
		}(i, item)
	}

	for range items {
		o := <-out
		results[o.idx] = mempool.BatchResult{ID: o.idx, Result: o.result.Body, Err: o.err}
	}

	return results, nil
}

// PrevOutValue implements txdecoder.PrevOutFetcher over gettxout,
// checking the mempool as well as the confirmed chain since the
// tracker is usually asking about an input that hasn't confirmed
// yet.
func (p *Pool) PrevOutValue(txid string, vout uint32) (int64, bool) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return 0, false
	}

	if err := p.limiter.Wait(context.Background()); err != nil {
		return 0, false
	}

	result, err := p.pick().GetTxOut(hash, vout, true)
	if err != nil || result == nil {
		return 0, false
	}

	amount, err := btcutil.NewAmount(result.Value)
	if err != nil {
		return 0, false
	}
	return int64(amount), true
}
