// Package redact keeps named sensitive values out of mined policies by
// replacing matching context values with generated placeholders before
// records reach validation and extraction.
package redact

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	idRegex             = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	placeholderAlphabet = []byte("abcdefghijklmnopqrstuvwxyz0123456789")
)

const minPlaceholderLength = 32

const maxPlaceholderAttempts = 64

// ErrInvalidID indicates the provided identifier failed validation.
var ErrInvalidID = errors.New("invalid id")

// ErrNotFound is returned when a redaction cannot be located.
var ErrNotFound = errors.New("redaction not found")

// ErrConflict indicates an operation would overwrite an existing redaction.
var ErrConflict = errors.New("redaction already exists")

// Redaction is an immutable snapshot of one masking rule. Hits counts how
// many context values the rule has replaced so far.
type Redaction struct {
	ID          string
	Value       string
	Placeholder string
	Hits        int
}

type redactionEntry struct {
	id          string
	value       string
	placeholder string
	hits        int
}

func (e *redactionEntry) snapshot() Redaction {
	return Redaction{
		ID:          e.id,
		Value:       e.value,
		Placeholder: e.placeholder,
		Hits:        e.hits,
	}
}

// Manager stores masking rules in memory with concurrency safety.
type Manager struct {
	mu               sync.Mutex
	entries          map[string]*redactionEntry
	placeholderIndex map[string]string
}

// NewManager constructs an empty Manager instance.
func NewManager() *Manager {
	return &Manager{
		entries:          make(map[string]*redactionEntry),
		placeholderIndex: make(map[string]string),
	}
}

// List returns every rule sorted by ID.
func (m *Manager) List() []Redaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Redaction, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the rule with the given ID.
func (m *Manager) Get(id string) (Redaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[strings.TrimSpace(id)]
	if !ok {
		return Redaction{}, ErrNotFound
	}
	return entry.snapshot(), nil
}

// Upsert creates, updates, or renames a rule and returns the resulting
// state. pathID addresses an existing rule; bodyID, when different, renames
// it. Changing a rule's value regenerates its placeholder.
func (m *Manager) Upsert(pathID, bodyID, value string) (Redaction, error) {
	canonicalPathID := strings.TrimSpace(pathID)
	bodyID = strings.TrimSpace(bodyID)

	targetID := bodyID
	if targetID == "" {
		targetID = canonicalPathID
	}
	if targetID == "" || !idRegex.MatchString(targetID) {
		return Redaction{}, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *redactionEntry
	var ok bool
	if canonicalPathID != "" {
		existing, ok = m.entries[canonicalPathID]
	}
	if ok {
		return m.updateExisting(existing, canonicalPathID, targetID, value)
	}
	return m.createNew(targetID, value)
}

// Delete removes a rule by ID.
func (m *Manager) Delete(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}

	delete(m.placeholderIndex, entry.placeholder)
	delete(m.entries, id)
	return nil
}

// MaskContext returns a copy of context with every string value that exactly
// matches a rule replaced by that rule's placeholder. Non-string and nested
// values are left alone. The input map is never modified; when nothing
// matches it is returned unchanged.
func (m *Manager) MaskContext(context map[string]any) map[string]any {
	if len(context) == 0 {
		return context
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return context
	}

	var out map[string]any
	for key, raw := range context {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		entry := m.matchValue(value)
		if entry == nil {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(context))
			for k, v := range context {
				out[k] = v
			}
		}
		out[key] = entry.placeholder
		entry.hits++
	}
	if out == nil {
		return context
	}
	return out
}

// matchValue picks the matching rule with the lowest ID so repeated values
// mask deterministically.
func (m *Manager) matchValue(value string) *redactionEntry {
	var best *redactionEntry
	for _, entry := range m.entries {
		if entry.value != value {
			continue
		}
		if best == nil || entry.id < best.id {
			best = entry
		}
	}
	return best
}

func (m *Manager) updateExisting(entry *redactionEntry, originalID, targetID, value string) (Redaction, error) {
	if entry == nil {
		return Redaction{}, ErrNotFound
	}

	// Rename semantics first.
	if targetID != originalID {
		if _, exists := m.entries[targetID]; exists {
			return Redaction{}, ErrConflict
		}
		delete(m.entries, originalID)
		entry.id = targetID
		m.entries[targetID] = entry
		if entry.placeholder != "" {
			m.placeholderIndex[entry.placeholder] = targetID
		}
	}

	// Regenerate the placeholder when the value changes.
	if entry.value != value {
		oldPlaceholder := entry.placeholder
		placeholder, err := m.uniquePlaceholder(len(value), oldPlaceholder)
		if err != nil {
			return Redaction{}, err
		}
		entry.placeholder = placeholder
		entry.value = value
		if oldPlaceholder != "" {
			delete(m.placeholderIndex, oldPlaceholder)
		}
		m.placeholderIndex[placeholder] = entry.id
	}

	return entry.snapshot(), nil
}

func (m *Manager) createNew(id, value string) (Redaction, error) {
	if _, exists := m.entries[id]; exists {
		return Redaction{}, ErrConflict
	}
	placeholder, err := m.uniquePlaceholder(len(value), "")
	if err != nil {
		return Redaction{}, err
	}
	entry := &redactionEntry{
		id:          id,
		value:       value,
		placeholder: placeholder,
	}
	m.entries[id] = entry
	m.placeholderIndex[placeholder] = id
	return entry.snapshot(), nil
}

func (m *Manager) uniquePlaceholder(length int, current string) (string, error) {
	if length == 0 {
		if current != "" {
			delete(m.placeholderIndex, current)
		}
		return "", nil
	}
	if length < minPlaceholderLength {
		length = minPlaceholderLength
	}

	for i := 0; i < maxPlaceholderAttempts; i++ {
		placeholder, err := randomPlaceholder(length)
		if err != nil {
			return "", err
		}
		if placeholder == current {
			continue
		}
		if _, exists := m.placeholderIndex[placeholder]; exists {
			continue
		}
		return placeholder, nil
	}
	return "", fmt.Errorf("failed to generate unique placeholder after %d attempts", maxPlaceholderAttempts)
}

func randomPlaceholder(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	builder := strings.Builder{}
	builder.Grow(length)
	max := big.NewInt(int64(len(placeholderAlphabet)))

	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		builder.WriteByte(placeholderAlphabet[idx.Int64()])
	}
	return builder.String(), nil
}
