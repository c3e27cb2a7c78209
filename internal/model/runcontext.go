package model

import (
	"slices"
	"sync"

	"github.com/rotisserie/eris"
)

// Reserved RunContext keys seeded at job creation.
const (
	KeySubjectName = "subject_name"
	KeyFreeText    = "context"
)

// ErrSlotTaken is returned when a RunContext slot is written twice.
var ErrSlotTaken = eris.New("model: run context slot already written")

// ContextReader is the read-only view of a RunContext handed to steps.
type ContextReader interface {
	Get(key string) (any, bool)
	SubjectName() string
	FreeText() string
}

// RunContext is the append-only result map shared between the steps of a
// job. Each slot can be written exactly once.
type RunContext struct {
	mu      sync.RWMutex
	entries map[string]any
	order   []string
}

// NewRunContext returns a context seeded with the subject name and the
// caller's free-text context.
func NewRunContext(subject, freeText string) *RunContext {
	return &RunContext{
		entries: map[string]any{
			KeySubjectName: subject,
			KeyFreeText:    freeText,
		},
		order: []string{KeySubjectName, KeyFreeText},
	}
}

// Set writes a slot. Writing an existing slot returns ErrSlotTaken.
func (rc *RunContext) Set(key string, v any) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.entries[key]; ok {
		return eris.Wrapf(ErrSlotTaken, "key %q", key)
	}
	rc.entries[key] = v
	rc.order = append(rc.order, key)
	return nil
}

// Get reads a slot.
func (rc *RunContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.entries[key]
	return v, ok
}

// SubjectName returns the seeded subject name.
func (rc *RunContext) SubjectName() string {
	v, _ := rc.Get(KeySubjectName)
	s, _ := v.(string)
	return s
}

// FreeText returns the seeded caller context.
func (rc *RunContext) FreeText() string {
	v, _ := rc.Get(KeyFreeText)
	s, _ := v.(string)
	return s
}

// Keys returns slot keys in write order.
func (rc *RunContext) Keys() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return slices.Clone(rc.order)
}

// View returns a reader restricted to the seeded keys plus the given step
// slots. Reads of any other slot report absent.
func (rc *RunContext) View(deps ...StepID) ContextReader {
	allowed := make(map[string]bool, len(deps)+2)
	allowed[KeySubjectName] = true
	allowed[KeyFreeText] = true
	for _, d := range deps {
		allowed[string(d)] = true
	}
	return &scopedView{rc: rc, allowed: allowed}
}

type scopedView struct {
	rc      *RunContext
	allowed map[string]bool
}

func (v *scopedView) Get(key string) (any, bool) {
	if !v.allowed[key] {
		return nil, false
	}
	return v.rc.Get(key)
}

func (v *scopedView) SubjectName() string { return v.rc.SubjectName() }
func (v *scopedView) FreeText() string    { return v.rc.FreeText() }

// Lookup reads a typed slot. It returns false when the slot is missing,
// holds a placeholder, or holds a different type.
func Lookup[T any](r ContextReader, id StepID) (T, bool) {
	var zero T
	v, ok := r.Get(string(id))
	if !ok || IsUnavailable(v) {
		return zero, false
	}
	switch t := v.(type) {
	case T:
		return t, true
	case *T:
		if t != nil {
			return *t, true
		}
	}
	return zero, false
}
