package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EmiMaldonado/glaub-session-api/internal/config"
	"github.com/EmiMaldonado/glaub-session-api/internal/model"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/event"
	"github.com/EmiMaldonado/glaub-session-api/internal/testutil"
)

// fakeStore 内存版会话存储
// MarkCompleted / MarkTerminated 在锁内做状态比较再迁移，
// 模拟数据库条件更新的"只有一方能赢"语义。gate 非空时
// GetSessionByID 会在栅栏处等齐全部读者，让并发双方都先看到
// 未终态的会话再去竞争迁移
type fakeStore struct {
	mu       sync.Mutex
	session  *model.TherapySession
	messages []*model.SessionMessage
	gate     *sync.WaitGroup
}

func (f *fakeStore) CreateSession(s *model.TherapySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
	return nil
}

func (f *fakeStore) GetSessionByID(id string) (*model.TherapySession, error) {
	f.mu.Lock()
	copied := *f.session
	f.mu.Unlock()

	if f.gate != nil {
		f.gate.Done()
		f.gate.Wait()
	}
	return &copied, nil
}

func (f *fakeStore) GetActiveSessionByUser(userID string) (*model.TherapySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil || f.session.Status != model.SessionActive {
		return nil, nil
	}
	copied := *f.session
	return &copied, nil
}

func (f *fakeStore) ListSessionsByUser(userID string, offset, limit int) ([]*model.TherapySession, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, 0, nil
	}
	copied := *f.session
	return []*model.TherapySession{&copied}, 1, nil
}

func (f *fakeStore) MarkCompleted(id string, completedAt time.Time, elapsedSeconds int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.IsTerminal() {
		return false, nil
	}
	f.session.Status = model.SessionCompleted
	f.session.CompletedAt = &completedAt
	f.session.ElapsedSeconds = elapsedSeconds
	return true, nil
}

func (f *fakeStore) MarkTerminated(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.IsTerminal() {
		return false, nil
	}
	f.session.Status = model.SessionTerminated
	return true, nil
}

func (f *fakeStore) UpdateElapsed(id string, elapsedSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.ElapsedSeconds = elapsedSeconds
	return nil
}

func (f *fakeStore) SetInsight(id string, insight model.JSON) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.Insight = insight
	return nil
}

func (f *fakeStore) CreateMessage(msg *model.SessionMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) GetMessagesBySessionID(sessionID string) ([]*model.SessionMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.SessionMessage(nil), f.messages...), nil
}

func (f *fakeStore) CountMessages(sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.messages)), nil
}

func (f *fakeStore) ClearMessages(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	return nil
}

// fakeSnapshots 空快照读取器
type fakeSnapshots struct{}

func (fakeSnapshots) GetByUserID(userID string) (*model.PausedSnapshot, error) {
	return nil, nil
}

// countingGenerator 记录画像生成次数
type countingGenerator struct {
	profiles chan struct{}
}

func (g *countingGenerator) Reply(ctx context.Context, messages []*model.SessionMessage) (string, error) {
	return "ok", nil
}

func (g *countingGenerator) GenerateProfile(ctx context.Context, messages []*model.SessionMessage) (model.JSON, error) {
	g.profiles <- struct{}{}
	return model.JSON{"openness": 0.5}, nil
}

// eventRecorder 记录落存储的事件
type eventRecorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *eventRecorder) SaveEvent(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *eventRecorder) GetEvents(ctx context.Context, sessionID string) ([]*event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...), nil
}

func (r *eventRecorder) ClearEvents(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	return nil
}

func (r *eventRecorder) countByType(t event.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.EventType == t {
			n++
		}
	}
	return n
}

func newEndFixture(store *fakeStore) (*Service, *eventRecorder, *countingGenerator) {
	recorder := &eventRecorder{}
	gen := &countingGenerator{profiles: make(chan struct{}, 4)}
	svc := NewService(store, fakeSnapshots{}, config.SessionConfig{}, event.NewBus(recorder), gen, nil)
	return svc, recorder, gen
}

func TestEndConcurrentOnlyOneWinner(t *testing.T) {
	// 时钟到期和手动结束同时到达：双方都能通过 IsTerminal 快速
	// 检查，但只有赢得存储层迁移的一方发事件、生成洞察
	store := &fakeStore{
		session:  testutil.NewTestSession("sess_race", "user_1"),
		messages: testutil.UserMessages("sess_race", 2, "I feel"),
	}
	gate := &sync.WaitGroup{}
	gate.Add(2)
	store.gate = gate

	svc, recorder, gen := newEndFixture(store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.End(context.Background(), "sess_race")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("End call %d returned error: %v", i, err)
		}
	}
	if store.session.Status != model.SessionCompleted {
		t.Fatalf("expected completed status, got %s", store.session.Status)
	}
	if got := recorder.countByType(event.EventCompleted); got != 1 {
		t.Errorf("expected exactly 1 completed event, got %d", got)
	}

	select {
	case <-gen.profiles:
	case <-time.After(time.Second):
		t.Fatal("expected one insight generation")
	}
	select {
	case <-gen.profiles:
		t.Error("insight generated twice for the same session")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndAlreadyCompletedIsNoOp(t *testing.T) {
	store := &fakeStore{
		session:  testutil.NewTestSession("sess_done", "user_1"),
		messages: testutil.UserMessages("sess_done", 1, "hello"),
	}
	svc, recorder, gen := newEndFixture(store)

	if err := svc.End(context.Background(), "sess_done"); err != nil {
		t.Fatalf("first End failed: %v", err)
	}
	<-gen.profiles

	if err := svc.End(context.Background(), "sess_done"); err != nil {
		t.Fatalf("second End failed: %v", err)
	}
	if got := recorder.countByType(event.EventCompleted); got != 1 {
		t.Errorf("expected 1 completed event after repeated End, got %d", got)
	}
	select {
	case <-gen.profiles:
		t.Error("repeated End regenerated the insight")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTerminateConcurrentOnlyOneWinner(t *testing.T) {
	store := &fakeStore{
		session: testutil.NewTestSession("sess_term", "user_1"),
	}
	gate := &sync.WaitGroup{}
	gate.Add(2)
	store.gate = gate

	svc, recorder, _ := newEndFixture(store)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Terminate(context.Background(), "sess_term"); err != nil {
				t.Errorf("Terminate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if store.session.Status != model.SessionTerminated {
		t.Fatalf("expected terminated status, got %s", store.session.Status)
	}
	if got := recorder.countByType(event.EventTerminated); got != 1 {
		t.Errorf("expected exactly 1 terminated event, got %d", got)
	}
}

func TestTerminateAfterEndKeepsCompleted(t *testing.T) {
	// 完成后再终止：终止输给已有的终态，状态和事件都不变
	store := &fakeStore{
		session: testutil.NewTestSession("sess_mixed", "user_1"),
	}
	svc, recorder, _ := newEndFixture(store)

	if err := svc.End(context.Background(), "sess_mixed"); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if err := svc.Terminate(context.Background(), "sess_mixed"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	if store.session.Status != model.SessionCompleted {
		t.Fatalf("expected completed status to survive, got %s", store.session.Status)
	}
	if got := recorder.countByType(event.EventTerminated); got != 0 {
		t.Errorf("expected no terminated event, got %d", got)
	}
}
