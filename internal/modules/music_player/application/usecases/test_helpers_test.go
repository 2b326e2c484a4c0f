package usecases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/application/ports"
	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

const testGuildID = snowflake.ID(100)
const testChannelID = snowflake.ID(200)

// fakeClock is an injectable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type playCall struct {
	path   string
	volume int
}

// mockTransport records all calls. Play signals the played channel so tests
// can wait for the asynchronous handoff.
type mockTransport struct {
	mu              sync.Mutex
	connectCalls    int
	disconnectCalls int
	playCalls       []playCall
	stopCalls       int
	pausedCalls     []bool
	volumeCalls     []int

	connectErr error
	playErr    error

	played chan playCall
}

func newMockTransport() *mockTransport {
	return &mockTransport{played: make(chan playCall, 16)}
}

func (m *mockTransport) Connect(_ context.Context, _, _ snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	return m.connectErr
}

func (m *mockTransport) Disconnect(_ context.Context, _ snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	return nil
}

func (m *mockTransport) Play(_ context.Context, _ snowflake.ID, path string, volume int) error {
	m.mu.Lock()
	err := m.playErr
	call := playCall{path: path, volume: volume}
	if err == nil {
		m.playCalls = append(m.playCalls, call)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.played <- call
	return nil
}

func (m *mockTransport) Stop(_ context.Context, _ snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return nil
}

func (m *mockTransport) SetPaused(_ context.Context, _ snowflake.ID, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pausedCalls = append(m.pausedCalls, paused)
	return nil
}

func (m *mockTransport) SetVolume(_ context.Context, _ snowflake.ID, volume int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumeCalls = append(m.volumeCalls, volume)
	return nil
}

func (m *mockTransport) playCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.playCalls)
}

func (m *mockTransport) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

func (m *mockTransport) pausedSeq() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := make([]bool, len(m.pausedCalls))
	copy(seq, m.pausedCalls)
	return seq
}

// mockResolver resolves every query to a deterministic track.
type mockResolver struct {
	mu  sync.Mutex
	err error
}

func (m *mockResolver) Resolve(_ context.Context, query string) (*ports.ResolvedTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &ports.ResolvedTrack{
		Title:    "Track " + query,
		URL:      "https://example.com/watch?v=" + query,
		Duration: 3 * time.Minute,
	}, nil
}

func (m *mockResolver) Search(_ context.Context, query string, _ int) ([]*ports.ResolvedTrack, error) {
	resolved, err := m.Resolve(context.Background(), query)
	if err != nil {
		return nil, err
	}
	return []*ports.ResolvedTrack{resolved}, nil
}

// mockAcquirer fails the first failures calls, then succeeds. When block is
// set, every call waits on it after registering, so tests can hold an
// acquisition in flight.
type mockAcquirer struct {
	mu        sync.Mutex
	calls     int
	callTimes []time.Time
	failures  int
	err       error
	block     chan struct{}
}

func (m *mockAcquirer) Acquire(_ context.Context, _ snowflake.ID, track *domain.Track) (string, error) {
	m.mu.Lock()
	m.calls++
	m.callTimes = append(m.callTimes, time.Now())
	block := m.block
	fail := m.calls <= m.failures
	err := m.err
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		if err == nil {
			err = domain.ErrAcquisitionFailed
		}
		return "", err
	}
	return "/cache/" + track.ID + ".webm", nil
}

func (m *mockAcquirer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockAcquirer) attemptTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	times := make([]time.Time, len(m.callTimes))
	copy(times, m.callTimes)
	return times
}

// mockJanitor records file lifecycle calls.
type mockJanitor struct {
	mu        sync.Mutex
	inUse     []string
	freed     []string
	scheduled []string
}

func (m *mockJanitor) MarkInUse(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inUse = append(m.inUse, path)
}

func (m *mockJanitor) MarkFree(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freed = append(m.freed, path)
}

func (m *mockJanitor) ScheduleDeletion(path string, _ snowflake.ID, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, path)
}

func (m *mockJanitor) scheduledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scheduled)
}

// mockSettingsStore serves one mutable settings value for every guild.
type mockSettingsStore struct {
	mu       sync.Mutex
	settings *domain.GuildMusicSettings
	err      error
}

func newMockSettingsStore() *mockSettingsStore {
	return &mockSettingsStore{settings: domain.DefaultSettings(testGuildID)}
}

func (m *mockSettingsStore) Get(_ context.Context, guildID snowflake.ID) (*domain.GuildMusicSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	copied := *m.settings
	copied.GuildID = guildID
	return &copied, nil
}

func (m *mockSettingsStore) Update(_ context.Context, settings *domain.GuildMusicSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *settings
	m.settings = &copied
	return nil
}

func (m *mockSettingsStore) mutate(fn func(*domain.GuildMusicSettings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.settings)
}

// mockSnapshotStore keeps snapshots in memory.
type mockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[snowflake.ID]*domain.QueueSnapshot
	deletes   int
}

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{snapshots: make(map[snowflake.ID]*domain.QueueSnapshot)}
}

func (m *mockSnapshotStore) Save(_ context.Context, snapshot *domain.QueueSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *snapshot
	m.snapshots[snapshot.GuildID] = &copied
	return nil
}

func (m *mockSnapshotStore) LoadAll(_ context.Context) ([]*domain.QueueSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.QueueSnapshot, 0, len(m.snapshots))
	for _, snapshot := range m.snapshots {
		result = append(result, snapshot)
	}
	return result, nil
}

func (m *mockSnapshotStore) Delete(_ context.Context, guildID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, guildID)
	m.deletes++
	return nil
}

func (m *mockSnapshotStore) get(guildID snowflake.ID) *domain.QueueSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[guildID]
}

// testEnv bundles a session wired to mocks.
type testEnv struct {
	transport *mockTransport
	resolver  *mockResolver
	acquirer  *mockAcquirer
	janitor   *mockJanitor
	settings  *mockSettingsStore
	snapshots *mockSnapshotStore
	clock     *fakeClock
	deps      SessionDeps
}

func newTestEnv() *testEnv {
	env := &testEnv{
		transport: newMockTransport(),
		resolver:  &mockResolver{},
		acquirer:  &mockAcquirer{},
		janitor:   &mockJanitor{},
		settings:  newMockSettingsStore(),
		snapshots: newMockSnapshotStore(),
		clock:     newFakeClock(),
	}
	env.deps = SessionDeps{
		Transport: env.transport,
		Resolver:  env.resolver,
		Acquirer:  env.acquirer,
		Files:     env.janitor,
		Settings:  env.settings,
		Snapshots: env.snapshots,
		RetryBase: time.Millisecond,
		Now:       env.clock.Now,
	}
	return env
}

func (env *testEnv) newSession() *Session {
	return newSession(testGuildID, env.deps, func(snowflake.ID) {})
}

// waitPlayed waits for the transport to receive a Play call.
func waitPlayed(t *testing.T, transport *mockTransport) playCall {
	t.Helper()
	select {
	case call := <-transport.played:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport play")
		return playCall{}
	}
}

// waitHandedOff waits for the session to finish the transport handoff.
func waitHandedOff(t *testing.T, s *Session) {
	t.Helper()
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.handedOff
	})
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
