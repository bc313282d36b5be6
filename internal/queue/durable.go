package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/ArgLab/lo-event/internal/storage/pebble"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

type opKind int

const (
	opEnqueue opKind = iota
	opDequeue
	opUnpark
)

type opResult struct {
	payload []byte
	err     error
}

// operation is one unit of serialized work against the store.
type operation struct {
	kind     opKind
	payload  []byte
	resolver chan opResult
}

// Durable is the Pebble-backed queue backend. The store's transactions must
// never overlap, so every public call becomes an operation appended to an
// internal log; a single worker pulls one operation at a time and fully
// completes it against the store before starting the next.
type Durable struct {
	db     *pebblestore.DB
	name   string
	logger logpkg.Logger

	mu   sync.Mutex
	ops  []operation
	wake chan struct{}

	// Worker-owned; never touched outside the processing loop.
	parked   chan opResult
	firstSeq uint64
	lastSeq  uint64
}

// OpenDurable opens (or resumes) the named durable queue. Rows left over from
// a previous process are dequeued first, in key order.
func OpenDurable(db *pebblestore.DB, name string, logger logpkg.Logger) (*Durable, error) {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	d := &Durable{
		db:     db,
		name:   name,
		logger: logger.WithComponent("queue.durable"),
		wake:   make(chan struct{}, 1),
	}
	if err := d.restore(); err != nil {
		return nil, err
	}
	go d.work()
	return d, nil
}

// restore loads firstSeq/lastSeq from surviving rows and metadata.
func (d *Durable) restore() error {
	if meta, err := d.db.Get(metaKey(d.name)); err == nil && len(meta) >= 8 {
		d.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	d.firstSeq = d.lastSeq + 1

	prefix := rowPrefix(d.name)
	hi := append(append([]byte{}, prefix...), 0xFF)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()
	if iter.First() {
		if seq, ok := rowSeq(prefix, iter.Key()); ok {
			d.firstSeq = seq
		}
	}
	if iter.Last() {
		if seq, ok := rowSeq(prefix, iter.Key()); ok && seq > d.lastSeq {
			d.lastSeq = seq
		}
	}
	return nil
}

// Enqueue implements Backend. The call never blocks; the write happens on the
// worker.
func (d *Durable) Enqueue(item []byte) {
	d.submit(operation{kind: opEnqueue, payload: item})
}

// Dequeue implements Backend. A caller that gives up while parked releases
// the consumer slot; an item handed over in that window is put back.
func (d *Durable) Dequeue(ctx context.Context) ([]byte, error) {
	resolver := make(chan opResult, 1)
	d.submit(operation{kind: opDequeue, resolver: resolver})
	select {
	case res := <-resolver:
		return res.payload, res.err
	case <-ctx.Done():
		d.submit(operation{kind: opUnpark, resolver: resolver})
		return nil, ctx.Err()
	}
}

func (d *Durable) submit(op operation) {
	d.mu.Lock()
	d.ops = append(d.ops, op)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// work is the single processing loop. It must never terminate on an
// operation failure.
func (d *Durable) work() {
	for {
		d.process(d.next())
	}
}

func (d *Durable) next() operation {
	for {
		d.mu.Lock()
		if len(d.ops) > 0 {
			op := d.ops[0]
			d.ops = d.ops[1:]
			d.mu.Unlock()
			return op
		}
		d.mu.Unlock()
		<-d.wake
	}
}

func (d *Durable) process(op operation) {
	switch op.kind {
	case opEnqueue:
		d.processEnqueue(op.payload)
	case opDequeue:
		d.processDequeue(op.resolver)
	case opUnpark:
		d.processUnpark(op.resolver)
	}
}

// processUnpark releases a consumer whose caller stopped waiting. If an item
// was already resolved to it, the item goes back into the queue.
func (d *Durable) processUnpark(resolver chan opResult) {
	if d.parked == resolver {
		d.parked = nil
		return
	}
	select {
	case res := <-resolver:
		if res.err == nil && res.payload != nil {
			d.processEnqueue(res.payload)
		}
	default:
	}
}

func (d *Durable) processEnqueue(payload []byte) {
	// A parked consumer takes the item directly; nothing touches the store.
	if d.parked != nil {
		resolver := d.parked
		d.parked = nil
		resolver <- opResult{payload: payload}
		return
	}

	val, err := encodeRecord(payload)
	if err != nil {
		d.logger.Error("encode stored item", logpkg.Err(err))
		return
	}
	seq := d.lastSeq + 1
	b := d.db.NewBatch()
	defer b.Close()
	if err := b.Set(rowKey(d.name, seq), val, nil); err != nil {
		d.logger.Error("stage stored item", logpkg.Err(err))
		return
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(metaKey(d.name), meta[:], nil); err != nil {
		d.logger.Error("stage queue meta", logpkg.Err(err))
		return
	}
	if err := d.db.CommitBatch(context.Background(), b); err != nil {
		d.logger.Error("commit stored item", logpkg.Err(err))
		return
	}
	d.lastSeq = seq
}

func (d *Durable) processDequeue(resolver chan opResult) {
	if d.parked != nil {
		resolver <- opResult{err: ErrConsumerParked}
		return
	}
	for d.firstSeq <= d.lastSeq {
		seq := d.firstSeq
		val, err := d.db.Get(rowKey(d.name, seq))
		if errors.Is(err, pebblestore.ErrNotFound) {
			d.firstSeq++
			continue
		}
		if err != nil {
			resolver <- opResult{err: err}
			return
		}
		payload, err := decodeRecord(val)
		if err != nil {
			d.logger.Error("decode stored item, skipping row", logpkg.Err(err))
			_ = d.db.Delete(rowKey(d.name, seq))
			d.firstSeq++
			continue
		}
		if err := d.db.Delete(rowKey(d.name, seq)); err != nil {
			resolver <- opResult{err: err}
			return
		}
		d.firstSeq++
		resolver <- opResult{payload: payload}
		return
	}
	// Empty: park this consumer until an item arrives. Only one parked
	// consumer is supported.
	d.parked = resolver
}
