// Package zmqsub implements mempool.NotificationSource over bitcoind's
// ZMQ publishers, using the same gozmq client this codebase's
// bitcoind chain backend uses for block and transaction
// notifications.
package zmqsub

import (
	"fmt"
	"sync"

	"github.com/lightninglabs/gozmq"

	"github.com/breez/mempooltracker/mempool"
)

const bufferSize = 1000

// Endpoints is the set of bitcoind -zmqpub* addresses to subscribe
// to, one per stream kind.
type Endpoints struct {
	Sequence string
	RawTx    string
	RawBlock string
}

// Source subscribes to bitcoind's three ZMQ publishers and exposes
// them as mempool.NotificationSource channels of raw payloads. Each
// stream gets its own socket, mirroring bitcoind's one-topic-per-port
// convention.
type Source struct {
	endpoints Endpoints

	conns []*gozmq.Conn

	sequenceOut chan []byte
	rawTxOut    chan []byte
	rawBlockOut chan []byte

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Source. Subscribe dials the sockets.
func New(endpoints Endpoints) *Source {
	return &Source{
		endpoints:   endpoints,
		sequenceOut: make(chan []byte, bufferSize),
		rawTxOut:    make(chan []byte, bufferSize),
		rawBlockOut: make(chan []byte, bufferSize),
		quit:        make(chan struct{}),
	}
}

// Subscribe implements mempool.NotificationSource, dialing the
// endpoint for the requested stream kind and returning a channel of
// its raw message-body payloads.
//
// For StreamSequence, the channel carries bitcoind's raw 32-byte
// hash + 1-byte label + optional 8-byte little-endian sequence
// number payload verbatim; the dispatcher is responsible for parsing
// it.
func (s *Source) Subscribe(kind mempool.StreamKind) (<-chan []byte, error) {
	switch kind {
	case mempool.StreamSequence:
		return s.sequenceOut, s.dial(s.endpoints.Sequence, "sequence", s.sequenceOut)
	case mempool.StreamRawTx:
		return s.rawTxOut, s.dial(s.endpoints.RawTx, "rawtx", s.rawTxOut)
	case mempool.StreamRawBlock:
		return s.rawBlockOut, s.dial(s.endpoints.RawBlock, "rawblock", s.rawBlockOut)
	default:
		return nil, fmt.Errorf("unknown stream kind %v", kind)
	}
}

func (s *Source) dial(addr, topic string, out chan<- []byte) error {
	events := make(chan [][]byte, bufferSize)
	commands := make(chan [][]byte)

	conn, err := gozmq.Subscribe(addr, events, commands, bufferSize)
	if err != nil {
		return fmt.Errorf("subscribing to %s at %s: %w", topic, addr, err)
	}
	s.conns = append(s.conns, conn)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case msg, ok := <-events:
				if !ok {
					return
				}
				if len(msg) < 2 {
					continue
				}
				select {
				case out <- msg[1]:
				default:
					// A slow consumer drops the message rather than
					// stalling the ZMQ socket; the next reconciler
					// pass recovers any state this cost.
				}
			case <-s.quit:
				return
			}
		}
	}()

	return nil
}

// Close tears down every subscribed socket.
func (s *Source) Close() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	for _, c := range s.conns {
		c.Close()
	}
	s.wg.Wait()
}
