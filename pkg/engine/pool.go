package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zxbkit/peephole/pkg/rules"
)

// Unit is one compilation unit to optimize.
type Unit struct {
	Name  string
	Lines []string
}

// Result pairs a unit with its optimized output.
type Result struct {
	Unit  Unit
	Lines []string
	Stats *Stats
	Err   error
}

// Pool optimizes independent units concurrently. Each worker runs its own
// driver; the only shared state is the frozen registry, which is
// read-only, so no synchronization is needed around rule access.
type Pool struct {
	NumWorkers int

	reg *rules.Registry
	cfg Config

	units    atomic.Int64
	rewrites atomic.Int64
}

// NewPool creates a pool with the given number of workers (0 = NumCPU).
func NewPool(reg *rules.Registry, cfg Config, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &Pool{NumWorkers: numWorkers, reg: reg, cfg: cfg}
}

// Stats returns how many units and rewrites the pool has processed.
func (p *Pool) Stats() (units, rewrites int64) {
	return p.units.Load(), p.rewrites.Load()
}

// Run optimizes all units and returns results in input order.
func (p *Pool) Run(ctx context.Context, units []Unit) []Result {
	ch := make(chan int, len(units))
	for i := range units {
		ch <- i
	}
	close(ch)

	results := make([]Result, len(units))
	var wg sync.WaitGroup
	for w := 0; w < p.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := New(p.reg, p.cfg)
			for i := range ch {
				lines, stats, err := d.Optimize(ctx, units[i].Lines)
				results[i] = Result{Unit: units[i], Lines: lines, Stats: stats, Err: err}
				p.units.Add(1)
				p.rewrites.Add(int64(stats.Rewrites))
			}
		}()
	}
	wg.Wait()
	return results
}
