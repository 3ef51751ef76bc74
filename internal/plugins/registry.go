package plugins

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/glovelink/internal/link"
)

var ErrDuplicate = errors.New("plugins: name already registered")

type Registry struct {
	mu    sync.RWMutex
	items map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{items: map[string]Plugin{}}
}

func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.Name())
	}
	r.items[p.Name()] = p
	return nil
}

func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Report is one plugin's entry on the plugins endpoint.
type Report struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Status  any    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (r *Registry) Reports() []Report {
	out := make([]Report, 0)
	for _, name := range r.Names() {
		p, ok := r.Get(name)
		if !ok {
			continue
		}
		st, err := p.Status()
		rep := Report{Name: name, Healthy: err == nil, Status: st}
		if err != nil {
			rep.Error = err.Error()
		}
		out = append(out, rep)
	}
	return out
}

// Attach subscribes every registered plugin and returns a func that detaches
// them all.
func (r *Registry) Attach(subscribe func(link.Listener) func()) func() {
	var cancels []func()
	for _, name := range r.Names() {
		if p, ok := r.Get(name); ok {
			cancels = append(cancels, subscribe(p.Listener()))
		}
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}
