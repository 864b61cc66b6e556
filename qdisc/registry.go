package qdisc

import (
	"sort"
	"sync"
)

// Registry holds the committed discipline of every attach point.
type Registry struct {
	mu        sync.Mutex
	committed map[AttachPoint]Discipline
}

func NewRegistry() *Registry {
	return &Registry{committed: make(map[AttachPoint]Discipline)}
}

// Begin opens a tentative configuration for ap. Nothing is visible in the
// registry until Commit succeeds.
func (r *Registry) Begin(ap AttachPoint) *Config {
	return &Config{reg: r, ap: ap}
}

func (r *Registry) Get(ap AttachPoint) (Discipline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.committed[ap]
	return d, ok
}

func (r *Registry) Remove(ap AttachPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.committed, ap)
}

// AttachPoints returns the committed attach points in a stable order.
func (r *Registry) AttachPoints() []AttachPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	aps := make([]AttachPoint, 0, len(r.committed))
	for ap := range r.committed {
		aps = append(aps, ap)
	}
	sort.Slice(aps, func(i, j int) bool {
		if aps[i].Namespace != aps[j].Namespace {
			return aps[i].Namespace < aps[j].Namespace
		}
		if aps[i].Link != aps[j].Link {
			return aps[i].Link < aps[j].Link
		}
		return aps[i].Parent < aps[j].Parent
	})
	return aps
}

func (r *Registry) committedKind(ap AttachPoint) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.committed[ap]
	if !ok {
		return "", false
	}
	return d.Kind(), true
}

// Config is a tentative discipline configuration for one attach point.
// It is owned by a single section reader.
type Config struct {
	reg    *Registry
	ap     AttachPoint
	disc   Discipline
	closed bool
}

func (c *Config) AttachPoint() AttachPoint { return c.ap }

// Discipline returns the pending discipline, or nil before the first claim.
func (c *Config) Discipline() Discipline { return c.disc }

// Claim returns the pending discipline of the given kind, creating it on
// first use. A different kind already pending here or committed for the
// attach point yields a ConflictError.
func (c *Config) Claim(kind string) (Discipline, error) {
	if c.closed {
		return nil, ErrConfigClosed
	}
	if c.disc != nil {
		if c.disc.Kind() != kind {
			return nil, &ConflictError{AttachPoint: c.ap, Existing: c.disc.Kind(), Requested: kind}
		}
		return c.disc, nil
	}
	if existing, ok := c.reg.committedKind(c.ap); ok && existing != kind {
		return nil, &ConflictError{AttachPoint: c.ap, Existing: existing, Requested: kind}
	}

	d, err := NewDiscipline(kind)
	if err != nil {
		return nil, err
	}
	c.disc = d
	return d, nil
}

// Set claims kind and assigns one key.
func (c *Config) Set(kind, key, text string) error {
	d, err := c.Claim(kind)
	if err != nil {
		return err
	}
	return d.Set(key, text)
}

func (c *Config) tbf() (*TokenBucketFilter, error) {
	d, err := c.Claim(KindTBF)
	if err != nil {
		return nil, err
	}
	return d.(*TokenBucketFilter), nil
}

// SetSizeField claims a token bucket filter and assigns a size key.
func (c *Config) SetSizeField(key, text string) error {
	t, err := c.tbf()
	if err != nil {
		return err
	}
	return t.SetSizeField(key, text)
}

// SetLatencyField claims a token bucket filter and assigns LatencySec.
func (c *Config) SetLatencyField(text string) error {
	t, err := c.tbf()
	if err != nil {
		return err
	}
	return t.SetLatencyField(text)
}

// Commit validates the pending discipline and stores it. The handle is
// closed whatever the outcome.
func (c *Config) Commit() (Discipline, error) {
	if c.closed {
		return nil, ErrConfigClosed
	}
	c.closed = true

	d := c.disc
	c.disc = nil
	if d == nil {
		return nil, ErrNothingToCommit
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if existing, ok := c.reg.committed[c.ap]; ok && existing.Kind() != d.Kind() {
		return nil, &ConflictError{AttachPoint: c.ap, Existing: existing.Kind(), Requested: d.Kind()}
	}
	c.reg.committed[c.ap] = d
	return d, nil
}

// Discard drops the pending discipline. Calling it after Commit is a no-op.
func (c *Config) Discard() {
	c.closed = true
	c.disc = nil
}
