package capture

import "sort"

// PendingTracker is the set of request ids whose response body is in flight.
type PendingTracker struct {
	ids map[string]struct{}
}

func NewPendingTracker() *PendingTracker {
	return &PendingTracker{ids: make(map[string]struct{})}
}

func (p *PendingTracker) Mark(id string) { p.ids[id] = struct{}{} }

// Resolve removes id; resolving an absent id is a no-op.
func (p *PendingTracker) Resolve(id string) { delete(p.ids, id) }

func (p *PendingTracker) Has(id string) bool {
	_, ok := p.ids[id]
	return ok
}

func (p *PendingTracker) IsEmpty() bool { return len(p.ids) == 0 }

func (p *PendingTracker) Len() int { return len(p.ids) }

// IDs returns the pending ids sorted for stable logging.
func (p *PendingTracker) IDs() []string {
	out := make([]string, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *PendingTracker) Reset() { p.ids = make(map[string]struct{}) }
