package command

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ──────────────────────────────────────────────────────────────────────────────
// thresholds
// ──────────────────────────────────────────────────────────────────────────────

type memThresholds struct {
	mu    sync.Mutex
	items map[uuid.UUID]intervention.Threshold
}

func newMemThresholds(ts ...intervention.Threshold) *memThresholds {
	m := &memThresholds{items: map[uuid.UUID]intervention.Threshold{}}
	for _, t := range ts {
		m.items[t.ID] = t
	}
	return m
}

func (m *memThresholds) Create(_ context.Context, t intervention.Threshold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Name == t.Name {
			return shared.ErrThresholdAlreadyExists
		}
	}
	m.items[t.ID] = t
	return nil
}

func (m *memThresholds) Update(_ context.Context, t intervention.Threshold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[t.ID]; !ok {
		return shared.ErrThresholdNotFound
	}
	m.items[t.ID] = t
	return nil
}

func (m *memThresholds) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return shared.ErrThresholdNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memThresholds) GetByID(_ context.Context, id uuid.UUID) (intervention.Threshold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return intervention.Threshold{}, shared.ErrThresholdNotFound
	}
	return t, nil
}

func (m *memThresholds) GetByName(_ context.Context, name string) (intervention.Threshold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.items {
		if t.Name == name {
			return t, nil
		}
	}
	return intervention.Threshold{}, shared.ErrThresholdNotFound
}

func (m *memThresholds) List(_ context.Context, activeOnly bool) ([]intervention.Threshold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []intervention.Threshold
	for _, t := range m.items {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memThresholds) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ──────────────────────────────────────────────────────────────────────────────
// alerts
// ──────────────────────────────────────────────────────────────────────────────

type memAlerts struct {
	mu     sync.Mutex
	items  map[uuid.UUID]intervention.Alert
	audit  []intervention.AuditEntry
	writes int
}

func newMemAlerts() *memAlerts {
	return &memAlerts{items: map[uuid.UUID]intervention.Alert{}}
}

func (m *memAlerts) put(a intervention.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = a
}

func (m *memAlerts) CreateIfNoActive(_ context.Context, a intervention.Alert, entry intervention.AuditEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.StudentID == a.StudentID && existing.Subject == a.Subject &&
			existing.ThresholdID == a.ThresholdID && existing.Status.IsActive() {
			return false, nil
		}
	}
	m.items[a.ID] = a
	m.audit = append(m.audit, entry)
	m.writes++
	return true, nil
}

func (m *memAlerts) HasActive(_ context.Context, studentID uuid.UUID, subject string, thresholdID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.StudentID == studentID && a.Subject == subject && a.ThresholdID == thresholdID && a.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAlerts) Get(_ context.Context, id uuid.UUID) (intervention.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return intervention.Alert{}, shared.ErrAlertNotFound
	}
	return a, nil
}

func (m *memAlerts) List(_ context.Context, f intervention.AlertFilter) ([]intervention.Alert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []intervention.Alert
	for _, a := range m.items {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *memAlerts) CountByStatus(_ context.Context, _ []uuid.UUID) (map[intervention.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[intervention.Status]int{}
	for _, a := range m.items {
		counts[a.Status]++
	}
	return counts, nil
}

func (m *memAlerts) CountStudentsAtRisk(_ context.Context, _ []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	for _, a := range m.items {
		if a.Status.IsActive() {
			seen[a.StudentID] = true
		}
	}
	return len(seen), nil
}

func (m *memAlerts) Transition(_ context.Context, id uuid.UUID, fn intervention.TransitionFunc) (intervention.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[id]
	if !ok {
		return intervention.Alert{}, shared.ErrAlertNotFound
	}
	next, entry, err := fn(current)
	if err != nil {
		return intervention.Alert{}, err
	}
	m.items[id] = next
	if !entry.IsZero() {
		m.audit = append(m.audit, entry)
	}
	m.writes++
	return next, nil
}

func (m *memAlerts) ListAudit(_ context.Context, alertID uuid.UUID) ([]intervention.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []intervention.AuditEntry
	for _, e := range m.audit {
		if e.AlertID == alertID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAlerts) SearchAudit(_ context.Context, f intervention.AuditFilter) ([]intervention.AuditEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []intervention.AuditEntry
	for _, e := range m.audit {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (m *memAlerts) ListFlagged(_ context.Context, _ intervention.FlaggedFilter) ([]intervention.FlaggedStudent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[uuid.UUID]int{}
	for _, a := range m.items {
		if a.Status.IsActive() {
			counts[a.StudentID]++
		}
	}
	out := make([]intervention.FlaggedStudent, 0, len(counts))
	for id, n := range counts {
		out = append(out, intervention.FlaggedStudent{StudentID: id, ActiveAlerts: n})
	}
	return out, len(out), nil
}

func (m *memAlerts) all() []intervention.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]intervention.Alert, 0, len(m.items))
	for _, a := range m.items {
		out = append(out, a)
	}
	return out
}

func (m *memAlerts) auditActions(alertID uuid.UUID) []intervention.Action {
	entries, _ := m.ListAudit(context.Background(), alertID)
	actions := make([]intervention.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

// ──────────────────────────────────────────────────────────────────────────────
// external collaborators
// ──────────────────────────────────────────────────────────────────────────────

type memPerformance struct {
	rows    map[uuid.UUID][]intervention.WeeklyPerformance
	failFor map[uuid.UUID]bool
}

func (m *memPerformance) ListWeekly(_ context.Context, ids []uuid.UUID, wr intervention.WeekRange) ([]intervention.WeeklyPerformance, error) {
	var out []intervention.WeeklyPerformance
	for _, id := range ids {
		if m.failFor[id] {
			return nil, errors.New("aggregator unavailable")
		}
		for _, r := range m.rows[id] {
			if wr.Contains(r) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type memRoster struct {
	students []intervention.StudentRef
	users    map[string]uuid.UUID
	classes  map[uuid.UUID][]uuid.UUID
}

func (m *memRoster) ActiveStudents(context.Context) ([]intervention.StudentRef, error) {
	return m.students, nil
}

func (m *memRoster) GetStudent(_ context.Context, id uuid.UUID) (intervention.StudentRef, error) {
	for _, s := range m.students {
		if s.ID == id {
			return s, nil
		}
	}
	return intervention.StudentRef{}, shared.ErrStudentNotFound
}

func (m *memRoster) ResolveUser(_ context.Context, name string) (*uuid.UUID, error) {
	id, ok := m.users[name]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (m *memRoster) TeacherClassIDs(_ context.Context, teacherID uuid.UUID) ([]uuid.UUID, error) {
	return m.classes[teacherID], nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []intervention.DispatchRequest
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req intervention.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, req)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type heldLock struct{ held bool }

func (l *heldLock) TryAcquire(context.Context, time.Duration) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error { l.held = false; return nil }, true, nil
}
