package logger

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// CollectorOption configures Collector.
type CollectorOption func(*Collector)

// WithFlushInterval sets how often aggregated entries are written.
func WithFlushInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxKeys flushes early once this many distinct entries are pending.
func WithMaxKeys(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.maxKeys = n
		}
	}
}

// AggregatedEntry is one folded warning.
type AggregatedEntry struct {
	Message   string
	Fields    []Field
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Collector folds repeated warnings and writes one line per distinct warning
// and interval. Entries are grouped by message and string fields; the other
// fields of the latest occurrence are kept.
type Collector struct {
	out      *Logger
	interval time.Duration
	maxKeys  int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*AggregatedEntry
	order   []string

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewCollector starts a collector writing to out.
func NewCollector(out *Logger, opts ...CollectorOption) *Collector {
	if out == nil {
		out = NewNop()
	}
	c := &Collector{
		out:      out,
		interval: 30 * time.Second,
		maxKeys:  100,
		now:      time.Now,
		entries:  make(map[string]*AggregatedEntry),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.periodicFlush()
	return c
}

// Warn records a warning to be written on the next flush.
func (c *Collector) Warn(msg string, fields ...Field) {
	key := groupKey(msg, fields)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		e.Fields = fields
	} else {
		c.entries[key] = &AggregatedEntry{Message: msg, Fields: fields, Count: 1, FirstSeen: now, LastSeen: now}
		c.order = append(c.order, key)
	}
	var batch []AggregatedEntry
	if len(c.entries) >= c.maxKeys {
		batch = c.takeLocked()
	}
	c.mu.Unlock()

	c.write(batch)
}

// Pending returns the number of distinct warnings waiting for a flush.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush writes all pending entries.
func (c *Collector) Flush() {
	c.mu.Lock()
	batch := c.takeLocked()
	c.mu.Unlock()
	c.write(batch)
}

// Close stops the flush loop and writes what is left.
func (c *Collector) Close() error {
	c.once.Do(func() {
		close(c.stopCh)
		<-c.done
		c.Flush()
	})
	return nil
}

func (c *Collector) periodicFlush() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) takeLocked() []AggregatedEntry {
	if len(c.entries) == 0 {
		return nil
	}
	batch := make([]AggregatedEntry, 0, len(c.order))
	for _, k := range c.order {
		batch = append(batch, *c.entries[k])
	}
	c.entries = make(map[string]*AggregatedEntry)
	c.order = c.order[:0]
	return batch
}

func (c *Collector) write(batch []AggregatedEntry) {
	for _, e := range batch {
		fields := append(append([]Field(nil), e.Fields...),
			Int("count", e.Count),
			Time("first_seen", e.FirstSeen),
			Time("last_seen", e.LastSeen),
		)
		c.out.Warn(e.Message, fields...)
	}
}

func groupKey(msg string, fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if sf, ok := f.(StringField); ok {
			parts = append(parts, sf.Key+"="+sf.Value)
		}
	}
	sort.Strings(parts)
	return msg + "|" + strings.Join(parts, ",")
}
