package agent

import (
	"slices"
	"sort"
	"time"
)

// Performance accumulates per-agent execution results.
type Performance struct {
	CompletedCount     int           `json:"completed_count"`
	FailedCount        int           `json:"failed_count"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
}

// Efficiency is completed tasks per second of execution time, or zero when
// no execution time has been recorded.
func (p Performance) Efficiency() float64 {
	secs := p.TotalExecutionTime.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.CompletedCount) / secs
}

// Record is one registered agent.
type Record struct {
	ID              int         `json:"id"`
	Specializations []string    `json:"specializations"`
	Load            int         `json:"load"`
	Performance     Performance `json:"performance"`
	RegisteredAt    time.Time   `json:"registered_at"`
}

// Registry maps agent ids to their records. It is not safe for concurrent
// use; the owner serialises access.
type Registry struct {
	records map[int]*Record
	nextID  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[int]*Record)}
}

// Register allocates the next id and records its specializations, which
// are deduplicated and sorted.
func (r *Registry) Register(specializations []string, now time.Time) *Record {
	r.nextID++
	rec := &Record{
		ID:              r.nextID,
		Specializations: normalize(specializations),
		RegisteredAt:    now,
	}
	r.records[rec.ID] = rec
	return rec
}

func normalize(specs []string) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// SetSpecializations replaces the declared specializations of id.
func (r *Registry) SetSpecializations(id int, specializations []string) {
	if rec := r.records[id]; rec != nil {
		rec.Specializations = normalize(specializations)
	}
}

// Get returns the record for id or nil.
func (r *Registry) Get(id int) *Record {
	return r.records[id]
}

// Remove deletes an agent and reports whether it existed.
func (r *Registry) Remove(id int) bool {
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.records) }

// IDs returns every agent id in ascending order.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Acquire increments the in-flight load of id.
func (r *Registry) Acquire(id int) {
	if rec := r.records[id]; rec != nil {
		rec.Load++
	}
}

// Release decrements the in-flight load of id, never below zero.
func (r *Registry) Release(id int) {
	if rec := r.records[id]; rec != nil && rec.Load > 0 {
		rec.Load--
	}
}

// RecordResult adds one finished execution to the agent's counters.
func (r *Registry) RecordResult(id int, elapsed time.Duration, succeeded bool) {
	rec := r.records[id]
	if rec == nil {
		return
	}
	if elapsed > 0 {
		rec.Performance.TotalExecutionTime += elapsed
	}
	if succeeded {
		rec.Performance.CompletedCount++
	} else {
		rec.Performance.FailedCount++
	}
}
