package adapter

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"

	"github.com/srediag/handle-guard/api"
)

const (
	defaultAuditWorkers  = 4
	defaultDeliveryTries = 3
)

// AuditPipeline buffers handle lifecycle events and fans them out to audit
// sinks from a worker pool. Observer callbacks run on the session's
// mutating goroutine, so OnHandleEvent only enqueues; delivery, including
// retries with exponential backoff, happens on pipeline workers.
type AuditPipeline struct {
	q     *queue.Queue
	pool  *ants.Pool
	sinks []api.AuditSink
	wg    sync.WaitGroup

	dropped uint64
	mu      sync.Mutex
}

// NewAuditPipeline starts a pipeline delivering to sinks with the given
// number of workers (0 selects the default).
func NewAuditPipeline(workers int, sinks ...api.AuditSink) (*AuditPipeline, error) {
	if workers <= 0 {
		workers = defaultAuditWorkers
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("audit pipeline needs at least one sink")
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create audit worker pool: %w", err)
	}
	p := &AuditPipeline{
		q:     queue.New(64),
		pool:  pool,
		sinks: sinks,
	}
	p.wg.Add(1)
	go p.dispatch()
	return p, nil
}

// OnHandleEvent implements api.Observer. Events offered after Close are
// dropped.
func (p *AuditPipeline) OnHandleEvent(e api.Event) {
	if err := p.q.Put(e); err != nil {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
	}
}

// Dropped returns the number of events that could not be enqueued.
func (p *AuditPipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *AuditPipeline) dispatch() {
	defer p.wg.Done()
	for {
		items, err := p.q.Get(16)
		if err != nil {
			// Disposed; drain is over.
			return
		}
		for _, item := range items {
			e, ok := item.(api.Event)
			if !ok {
				continue
			}
			p.wg.Add(1)
			if err := p.pool.Submit(func() {
				defer p.wg.Done()
				p.deliver(e)
			}); err != nil {
				// Pool released during shutdown; deliver inline.
				p.deliver(e)
				p.wg.Done()
			}
		}
	}
}

func (p *AuditPipeline) deliver(e api.Event) {
	for _, sink := range p.sinks {
		op := func() error { return sink.Deliver(e) }
		bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultDeliveryTries)
		if err := backoff.Retry(op, bo); err != nil {
			p.mu.Lock()
			p.dropped++
			p.mu.Unlock()
		}
	}
}

// Close stops accepting events, waits for in-flight deliveries, and
// releases the worker pool.
func (p *AuditPipeline) Close() {
	p.q.Dispose()
	p.wg.Wait()
	p.pool.Release()
}

// LogSink writes one line per event to an io.Writer. Mostly useful for
// tests and local debugging.
type LogSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogSink builds a sink over out.
func NewLogSink(out io.Writer) *LogSink {
	return &LogSink{out: out}
}

// Deliver implements api.AuditSink.
func (s *LogSink) Deliver(e api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s session=%s event=%s handle=%#x generation=%d detail=%q\n",
		time.Now().Format(time.RFC3339Nano), e.Session, e.Type, e.Handle, e.Generation, e.Detail)
	return err
}
