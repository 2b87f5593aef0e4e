package pause

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/EmiMaldonado/glaub-session-api/internal/config"
	"github.com/EmiMaldonado/glaub-session-api/internal/model"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/summary"
	"github.com/EmiMaldonado/glaub-session-api/internal/testutil"
)

// ========== 测试替身 ==========

type fakeSessionStore struct {
	mu          sync.Mutex
	pausedCount int
	resumed     []string
	failPause   bool
}

func (f *fakeSessionStore) MarkPaused(id, reason string, pausedAt time.Time, elapsedSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPause {
		return fmt.Errorf("database unavailable")
	}
	f.pausedCount++
	return nil
}

func (f *fakeSessionStore) MarkResumed(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeSessionStore) paused() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pausedCount
}

type fakeSnapshotStore struct {
	mu       sync.Mutex
	upserted []*model.PausedSnapshot
	deleted  []string
	failUp   bool
}

func (f *fakeSnapshotStore) Upsert(s *model.PausedSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUp {
		return fmt.Errorf("snapshot write failed")
	}
	f.upserted = append(f.upserted, s)
	return nil
}

func (f *fakeSnapshotStore) DeleteByUserID(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeSnapshotStore) snapshots() []*model.PausedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.PausedSnapshot(nil), f.upserted...)
}

type fakeAudio struct {
	mu      sync.Mutex
	stopped []string
	fail    bool
}

func (f *fakeAudio) StopAllPlayback(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("no audio channel")
	}
	f.stopped = append(f.stopped, sessionID)
	return nil
}

type fakeNavigator struct {
	mu    sync.Mutex
	paths []string
	done  chan struct{}
}

func newFakeNavigator() *fakeNavigator {
	return &fakeNavigator{done: make(chan struct{}, 8)}
}

func (f *fakeNavigator) RedirectTo(userID, path string) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	f.done <- struct{}{}
}

type toast struct {
	title    string
	severity string
}

type fakeNotifier struct {
	mu     sync.Mutex
	toasts []toast
}

func (f *fakeNotifier) Notify(userID, title, description, severity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, toast{title: title, severity: severity})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.toasts)
}

// ========== 测试装配 ==========

type orchFixture struct {
	orch      *Orchestrator
	sessions  *fakeSessionStore
	snapshots *fakeSnapshotStore
	audio     *fakeAudio
	nav       *fakeNavigator
	notifier  *fakeNotifier
}

func newOrchFixture(cfg config.SessionConfig) *orchFixture {
	f := &orchFixture{
		sessions:  &fakeSessionStore{},
		snapshots: &fakeSnapshotStore{},
		audio:     &fakeAudio{},
		nav:       newFakeNavigator(),
		notifier:  &fakeNotifier{},
	}
	f.orch = NewOrchestrator(cfg, f.sessions, f.snapshots, summary.NewExtractor(), nil, f.audio, f.nav, f.notifier)
	return f
}

func testCfg() config.SessionConfig {
	return config.SessionConfig{
		PauseCooldown:        50 * time.Millisecond,
		ManagedPauseTimeout:  time.Second,
		PersistTimeout:       time.Second,
		UnloadPersistTimeout: 500 * time.Millisecond,
	}
}

func pauseRequest(reason string) *Request {
	session := testutil.NewTestSession("sess-1", "user-1")
	session.ElapsedSeconds = 120
	return &Request{
		Session:  session,
		UserID:   "user-1",
		Messages: testutil.Transcript("sess-1", "I'm worried about work", "tell me more"),
		Reason:   reason,
	}
}

// ========== 测试 ==========

func TestPauseHappyPath(t *testing.T) {
	f := newOrchFixture(testCfg())

	uiUpdated := false
	req := pauseRequest(model.PauseReasonManual)
	req.OnUIUpdate = func() { uiUpdated = true }

	if ok := f.orch.Pause(context.Background(), req); !ok {
		t.Fatal("Pause() = false, want true")
	}

	if got := f.sessions.paused(); got != 1 {
		t.Errorf("MarkPaused calls = %d, want 1", got)
	}
	if got := len(f.snapshots.snapshots()); got != 1 {
		t.Errorf("snapshot upserts = %d, want 1", got)
	}
	if !uiUpdated {
		t.Error("OnUIUpdate was not called")
	}
	if got := f.notifier.count(); got != 1 {
		t.Errorf("toasts = %d, want exactly 1", got)
	}

	snap := f.snapshots.snapshots()[0]
	if snap.UserID != "user-1" || snap.PauseReason != model.PauseReasonManual {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.SchemaVersion != model.SnapshotSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", snap.SchemaVersion, model.SnapshotSchemaVersion)
	}
}

// 单飞锁：同一会话的并发暂停只有一次生效
func TestPauseSingleFlight(t *testing.T) {
	f := newOrchFixture(testCfg())

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.orch.Pause(context.Background(), pauseRequest(model.PauseReasonNetwork))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded pauses = %d, want 1", succeeded)
	}
	if got := f.sessions.paused(); got != 1 {
		t.Errorf("MarkPaused calls = %d, want 1", got)
	}
	if got := f.notifier.count(); got != 1 {
		t.Errorf("toasts = %d, want 1", got)
	}
}

// 冷却期内锁不释放，过后才允许下一次暂停
func TestPauseCooldown(t *testing.T) {
	f := newOrchFixture(testCfg())

	if ok := f.orch.Pause(context.Background(), pauseRequest(model.PauseReasonNetwork)); !ok {
		t.Fatal("first Pause() = false")
	}
	if ok := f.orch.Pause(context.Background(), pauseRequest(model.PauseReasonVisibility)); ok {
		t.Error("Pause() during cooldown = true, want false")
	}
	if !f.orch.InFlight("sess-1") {
		t.Error("InFlight() = false during cooldown, want true")
	}

	// 冷却期 50ms，之后锁释放
	deadline := time.Now().Add(time.Second)
	for f.orch.InFlight("sess-1") {
		if time.Now().After(deadline) {
			t.Fatal("lock not released after cooldown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// 持久化整体失败时仍然更新 UI、发出错误提示并导航
func TestPausePersistenceOutage(t *testing.T) {
	f := newOrchFixture(testCfg())
	f.sessions.failPause = true
	f.audio.fail = true

	uiUpdated := false
	req := pauseRequest(model.PauseReasonNetwork)
	req.OnUIUpdate = func() { uiUpdated = true }

	if ok := f.orch.Pause(context.Background(), req); ok {
		t.Error("Pause() = true with total persistence failure, want false")
	}
	if !uiUpdated {
		t.Error("OnUIUpdate must run even when persistence fails")
	}

	select {
	case <-f.nav.done:
	case <-time.After(time.Second):
		t.Fatal("non-manual pause did not navigate away")
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.toasts) != 1 || f.notifier.toasts[0].severity != "error" {
		t.Errorf("toasts = %+v, want one error toast", f.notifier.toasts)
	}
}

// 快照失败不致命：主状态更新成功即视为部分成功
func TestPauseSnapshotFailureNonFatal(t *testing.T) {
	f := newOrchFixture(testCfg())
	f.snapshots.failUp = true

	if ok := f.orch.Pause(context.Background(), pauseRequest(model.PauseReasonManual)); !ok {
		t.Error("Pause() = false when only snapshot failed, want true")
	}
	if got := f.sessions.paused(); got != 1 {
		t.Errorf("MarkPaused calls = %d, want 1", got)
	}
}

// 手动暂停不导航
func TestManualPauseDoesNotNavigate(t *testing.T) {
	f := newOrchFixture(testCfg())

	f.orch.Pause(context.Background(), pauseRequest(model.PauseReasonManual))

	select {
	case <-f.nav.done:
		t.Error("manual pause navigated, want stay on page")
	case <-time.After(50 * time.Millisecond):
	}
}

// 托管暂停成功时不走直接持久化
func TestManagedPausePreferred(t *testing.T) {
	f := newOrchFixture(testCfg())

	req := pauseRequest(model.PauseReasonAuto)
	managedCalled := false
	req.ManagedPause = func(ctx context.Context) (bool, error) {
		managedCalled = true
		return true, nil
	}

	if ok := f.orch.Pause(context.Background(), req); !ok {
		t.Fatal("Pause() = false")
	}
	if !managedCalled {
		t.Error("ManagedPause was not called")
	}
	if got := f.sessions.paused(); got != 0 {
		t.Errorf("MarkPaused calls = %d, want 0 (managed path)", got)
	}
}

// 托管暂停超时后回落到直接持久化
func TestManagedPauseTimeoutFallsBack(t *testing.T) {
	cfg := testCfg()
	cfg.ManagedPauseTimeout = 30 * time.Millisecond
	f := newOrchFixture(cfg)

	req := pauseRequest(model.PauseReasonAuto)
	req.ManagedPause = func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}

	if ok := f.orch.Pause(context.Background(), req); !ok {
		t.Fatal("Pause() = false, want fallback persist to succeed")
	}
	if got := f.sessions.paused(); got != 1 {
		t.Errorf("MarkPaused calls = %d, want 1 via fallback", got)
	}
}

// 恢复默认保留快照
func TestResumeKeepsSnapshotByDefault(t *testing.T) {
	f := newOrchFixture(testCfg())

	if err := f.orch.Resume(context.Background(), "sess-1", "user-1"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(f.snapshots.deleted) != 0 {
		t.Errorf("snapshot deletes = %v, want none", f.snapshots.deleted)
	}
	if len(f.sessions.resumed) != 1 || f.sessions.resumed[0] != "sess-1" {
		t.Errorf("resumed = %v", f.sessions.resumed)
	}
}

// 配置开启时恢复会删除快照
func TestResumeDeletesSnapshotWhenConfigured(t *testing.T) {
	cfg := testCfg()
	cfg.DeleteSnapshotOnResume = true
	f := newOrchFixture(cfg)

	if err := f.orch.Resume(context.Background(), "sess-1", "user-1"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(f.snapshots.deleted) != 1 || f.snapshots.deleted[0] != "user-1" {
		t.Errorf("snapshot deletes = %v, want [user-1]", f.snapshots.deleted)
	}
}

// 关停后拒绝新的暂停
func TestDisposeRefusesNewPauses(t *testing.T) {
	f := newOrchFixture(testCfg())

	f.orch.Dispose()
	if ok := f.orch.Pause(context.Background(), pauseRequest(model.PauseReasonManual)); ok {
		t.Error("Pause() after Dispose = true, want false")
	}
}

func TestPauseRejectsBadRequest(t *testing.T) {
	f := newOrchFixture(testCfg())

	if ok := f.orch.Pause(context.Background(), nil); ok {
		t.Error("Pause(nil) = true")
	}
	if ok := f.orch.Pause(context.Background(), &Request{UserID: "u"}); ok {
		t.Error("Pause(no session) = true")
	}
}
