package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/lettucelabs/lettuce/internal/store"
)

// Compactor evicts entries that have gone cold: their recency decay times
// the hit-count boost has dropped under the configured floor. Similarity
// plays no part because compaction runs without a query. It sweeps on a
// cron schedule and can also be triggered directly.
type Compactor struct {
	mem      *Store
	cfg      Config
	running  bool
	nextRun  int64
	stopChan chan struct{}
	mu       sync.Mutex
}

// NewCompactor validates the schedule and builds a compactor. An empty
// schedule falls back to a nightly sweep.
func NewCompactor(mem *Store, cfg Config) (*Compactor, error) {
	cfg = cfg.withDefaults()
	gx := gronx.New()
	if !gx.IsValid(cfg.CompactSchedule) {
		return nil, fmt.Errorf("invalid compact schedule: %s", cfg.CompactSchedule)
	}
	return &Compactor{mem: mem, cfg: cfg}, nil
}

// Start begins the scheduling loop.
func (c *Compactor) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.nextRun = c.computeNextRun(store.NowMillis())
	c.stopChan = make(chan struct{})
	c.running = true

	go c.runLoop(c.stopChan)

	slog.Info("memory compactor started", "schedule", c.cfg.CompactSchedule)
}

// Stop halts the scheduling loop.
func (c *Compactor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	close(c.stopChan)
	c.running = false
	slog.Info("memory compactor stopped")
}

// RunOnce sweeps every session and deletes cold entries. It returns the
// number of entries removed.
func (c *Compactor) RunOnce() (int, error) {
	counts, err := c.mem.SessionCounts()
	if err != nil {
		return 0, err
	}

	now := store.NowMillis()
	total := 0
	for sessionID := range counts {
		removed, err := c.mem.Purge(sessionID, func(e Entry) bool {
			decay, hot := scoreParts(&e, now, c.cfg.DecayRate)
			return decay*hot < c.cfg.ColdThreshold
		})
		if err != nil {
			return total, err
		}
		total += removed
	}
	if total > 0 {
		slog.Info("memory compacted", "removed", total)
	}
	return total, nil
}

func (c *Compactor) runLoop(stopChan chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			c.maybeRun()
		}
	}
}

func (c *Compactor) maybeRun() {
	c.mu.Lock()
	now := store.NowMillis()
	due := c.nextRun != 0 && c.nextRun <= now
	if due {
		c.nextRun = c.computeNextRun(now)
	}
	c.mu.Unlock()

	if !due {
		return
	}
	if _, err := c.RunOnce(); err != nil {
		slog.Error("memory compaction failed", "error", err)
	}
}

func (c *Compactor) computeNextRun(now int64) int64 {
	next, err := gronx.NextTickAfter(c.cfg.CompactSchedule, time.UnixMilli(now), false)
	if err != nil {
		slog.Error("memory compactor: compute next run", "expr", c.cfg.CompactSchedule, "error", err)
		return 0
	}
	return next.UnixMilli()
}
