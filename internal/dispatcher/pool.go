package dispatcher

import (
	"context"
	"time"
)

// PoolConfig maps a queue name to the number of worker goroutines that
// drain it concurrently.
type PoolConfig struct {
	Queues map[string]int
}

// DefaultPoolConfig returns a single worker on the default queue, adequate
// for a single-process deployment.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Queues: map[string]int{defaultQueueName: 1}}
}

// Pool runs a fixed number of worker goroutines per configured queue, each
// repeatedly calling RunOnce until Stop is called.
type Pool struct {
	d        *Dispatcher
	cfg      PoolConfig
	stopChan chan struct{}
}

// NewPool returns a Pool driving d according to cfg.
func NewPool(d *Dispatcher, cfg PoolConfig) *Pool {
	return &Pool{d: d, cfg: cfg, stopChan: make(chan struct{})}
}

// Start launches one goroutine per configured worker slot.
func (p *Pool) Start(ctx context.Context) {
	for queueName, count := range p.cfg.Queues {
		for i := 0; i < count; i++ {
			go p.runWorker(ctx, queueName)
		}
	}
}

// Stop signals every worker goroutine to exit after its current RunOnce
// call returns.
func (p *Pool) Stop() { close(p.stopChan) }

func (p *Pool) runWorker(ctx context.Context, queueName string) {
	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		ran, err := p.d.RunOnce(ctx, queueName, 5*time.Second)
		if err != nil {
			p.d.log.WithErr(err).Warnf("worker on queue %q failed a run", queueName)
			time.Sleep(time.Second)
			continue
		}
		if !ran {
			continue // timed out waiting for a job; loop and check stopChan again
		}
	}
}
