package usecase_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/agent"
	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// --- Processors ---

type MockVision struct {
	ProcessFunc func(ctx context.Context, in agent.VisionInput) model.Result
	calls       int32
}

func (m *MockVision) Process(ctx context.Context, in agent.VisionInput) model.Result {
	atomic.AddInt32(&m.calls, 1)
	return m.ProcessFunc(ctx, in)
}

func (m *MockVision) Calls() int { return int(atomic.LoadInt32(&m.calls)) }

type MockPlan struct {
	ProcessFunc func(ctx context.Context, in agent.PlanInput) model.Result
	calls       int32
}

func (m *MockPlan) Process(ctx context.Context, in agent.PlanInput) model.Result {
	atomic.AddInt32(&m.calls, 1)
	return m.ProcessFunc(ctx, in)
}

func (m *MockPlan) Calls() int { return int(atomic.LoadInt32(&m.calls)) }

// --- Usage ---

type memUsageRepo struct {
	mu   sync.Mutex
	used map[string]int
	// reads counts GetUsed calls so tests can assert the gate never touched storage.
	reads    int
	releases int
	incErr   error
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{used: make(map[string]int)}
}

func usageKey(accountID string, c model.Capability) string { return accountID + "|" + string(c) }

func (m *memUsageRepo) GetUsed(ctx context.Context, tx repository.Tx, accountID string, c model.Capability) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.used[usageKey(accountID, c)], nil
}

func (m *memUsageRepo) Increment(ctx context.Context, tx repository.Tx, accountID string, c model.Capability) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return 0, m.incErr
	}
	m.used[usageKey(accountID, c)]++
	return m.used[usageKey(accountID, c)], nil
}

func (m *memUsageRepo) Reserve(ctx context.Context, tx repository.Tx, accountID string, c model.Capability, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return 0, false, m.incErr
	}
	k := usageKey(accountID, c)
	if !model.Allows(m.used[k], limit) {
		return m.used[k], false, nil
	}
	m.used[k]++
	return m.used[k], true, nil
}

func (m *memUsageRepo) Release(ctx context.Context, tx repository.Tx, accountID string, c model.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey(accountID, c)
	if m.used[k] > 0 {
		m.used[k]--
	}
	m.releases++
	return nil
}

func (m *memUsageRepo) Used(accountID string, c model.Capability) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[usageKey(accountID, c)]
}

func (m *memUsageRepo) Set(accountID string, c model.Capability, v int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[usageKey(accountID, c)] = v
}

// --- Result store ---

type MockStore struct {
	mu       sync.Mutex
	bundles  map[string]*model.AnalysisBundle
	SaveErr  error
	PlanErr  error
	planSave int
}

func NewMockStore() *MockStore {
	return &MockStore{bundles: make(map[string]*model.AnalysisBundle)}
}

func (m *MockStore) SaveAnalysis(ctx context.Context, report *model.AnalysisReport, errs []model.AnalysisError, exercises []model.Exercise, stats []model.SubjectStat) (string, error) {
	if m.SaveErr != nil {
		return "", m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	report.ID = uuid.NewString()
	report.CreatedAt = time.Now()
	for i := range errs {
		errs[i].ReportID = report.ID
	}
	m.bundles[report.ID] = &model.AnalysisBundle{
		Report:    *report,
		Errors:    append([]model.AnalysisError(nil), errs...),
		Exercises: append([]model.Exercise(nil), exercises...),
		Stats:     append([]model.SubjectStat(nil), stats...),
	}
	return report.ID, nil
}

func (m *MockStore) SavePlan(ctx context.Context, reportID string, exercises []model.Exercise) error {
	if m.PlanErr != nil {
		return m.PlanErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[reportID]
	if !ok {
		return domain.ErrNotFound
	}
	b.Exercises = append(b.Exercises, exercises...)
	m.planSave++
	return nil
}

func (m *MockStore) GetAnalysis(ctx context.Context, reportID string) (*model.AnalysisBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[reportID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MockStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bundles)
}

// --- Subjects ---

type MockSubjects struct {
	mu      sync.Mutex
	status  map[string]model.SubjectStatus
	owners  map[string]string
	history map[string][]model.SubjectStatus
}

func NewMockSubjects(ids ...string) *MockSubjects {
	m := &MockSubjects{status: map[string]model.SubjectStatus{}, owners: map[string]string{}, history: map[string][]model.SubjectStatus{}}
	for _, id := range ids {
		m.status[id] = model.SubjectIdle
	}
	return m
}

func (m *MockSubjects) UpdateStatus(ctx context.Context, tx repository.Tx, id string, s model.SubjectStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.status[id]; !ok {
		return domain.ErrNotFound
	}
	m.status[id] = s
	m.history[id] = append(m.history[id], s)
	return nil
}

func (m *MockSubjects) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &model.Subject{ID: id, AccountID: m.owners[id], Status: s}, nil
}

func (m *MockSubjects) SetOwner(id, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[id] = accountID
}

func (m *MockSubjects) FailStale(ctx context.Context, before time.Time) ([]string, error) {
	return nil, nil
}

func (m *MockSubjects) Status(id string) model.SubjectStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[id]
}

func (m *MockSubjects) History(id string) []model.SubjectStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SubjectStatus(nil), m.history[id]...)
}

// --- Progress ---

type RecordingBroadcaster struct {
	mu     sync.Mutex
	events map[string][]model.ProgressEvent
}

func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{events: map[string][]model.ProgressEvent{}}
}

func (b *RecordingBroadcaster) Publish(subjectID string, ev model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[subjectID] = append(b.events[subjectID], ev)
}

func (b *RecordingBroadcaster) Subscribe(ctx context.Context, subjectID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent)
	close(ch)
	return ch, func() {}
}

func (b *RecordingBroadcaster) Events(subjectID string) []model.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ProgressEvent(nil), b.events[subjectID]...)
}

// --- Locking ---

type MemLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemLocker() *MemLocker { return &MemLocker{held: map[string]bool{}} }

func (l *MemLocker) TryLock(ctx context.Context, id string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return nil, false, nil
	}
	l.held[id] = true
	return func() {
		l.mu.Lock()
		delete(l.held, id)
		l.mu.Unlock()
	}, true, nil
}

// --- Notifications ---

type MockNotifier struct {
	sent chan model.Notification
	Err  error
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{sent: make(chan model.Notification, 16)}
}

func (n *MockNotifier) Notify(ctx context.Context, msg model.Notification) error {
	n.sent <- msg
	return n.Err
}

// SyncDispatcher runs submitted work inline.
type SyncDispatcher struct{}

func (SyncDispatcher) Submit(task func(ctx context.Context) error) error {
	return task(context.Background())
}

// PanicLedger blows up on every call.
type PanicLedger struct{}

func (PanicLedger) CheckAndCountRemaining(context.Context, string, model.Tier, model.Capability) (model.QuotaCheck, error) {
	panic("ledger exploded")
}
func (PanicLedger) Increment(context.Context, string, model.Capability) (int, error) {
	panic("ledger exploded")
}
func (PanicLedger) Reserve(context.Context, string, model.Tier, model.Capability) (model.QuotaCheck, error) {
	panic("ledger exploded")
}
func (PanicLedger) Release(context.Context, string, model.Capability) error {
	panic("ledger exploded")
}

// StaleCheckLedger answers the read-only check as if a unit were left, like a
// check that ran just before a concurrent run took the last unit.
type StaleCheckLedger struct {
	usecase.UsageLedgerUseCase
}

func (l StaleCheckLedger) CheckAndCountRemaining(ctx context.Context, accountID string, tier model.Tier, c model.Capability) (model.QuotaCheck, error) {
	return model.QuotaCheck{Allowed: true}, nil
}

type MockTranslator struct{}

func (MockTranslator) T(key string, args ...interface{}) string { return key }
