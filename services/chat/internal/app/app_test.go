package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bookchat/pkg/ai"
	"bookchat/pkg/domain"
	"bookchat/pkg/events"
	"bookchat/pkg/store"
	"bookchat/services/chat/internal/bookclient"
)

type recordingGenerator struct {
	mu      sync.Mutex
	prompts [][]ai.Message
	opts    []ai.Options
	replies []string
	errs    []error
}

func (g *recordingGenerator) Chat(_ context.Context, messages []ai.Message, opts ai.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]ai.Message, len(messages))
	copy(cp, messages)
	g.prompts = append(g.prompts, cp)
	g.opts = append(g.opts, opts)
	i := len(g.prompts) - 1
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return "  a reply  ", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type fakeCatalog struct {
	books map[string]domain.Book
	err   error
}

func (c fakeCatalog) GetBook(_ context.Context, _ string, id string) (domain.Book, error) {
	if c.err != nil {
		return domain.Book{}, c.err
	}
	b, ok := c.books[id]
	if !ok {
		return domain.Book{}, &bookclient.APIError{Status: 404, Message: "book not found"}
	}
	return b, nil
}

type fixture struct {
	app   *App
	store *store.MemoryStore
	gen   *recordingGenerator
	pub   *recordingPublisher
}

func newFixture(t *testing.T, mutate func(*Config)) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	gen := &recordingGenerator{}
	pub := &recordingPublisher{}
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cfg := Config{
		Store:     st,
		Generator: gen,
		Provider:  "fake",
		Model:     "fake-1",
		Events:    pub,
		Now: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return fixture{app: a, store: st, gen: gen, pub: pub}
}

func caller(id string) Caller {
	return Caller{User: domain.User{ID: id, Role: domain.RoleUser}, Token: "tok-" + id}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Generator: &recordingGenerator{}})
	require.Error(t, err)
	_, err = New(Config{Store: store.NewMemoryStore()})
	require.Error(t, err)
	_, err = New(Config{Store: store.NewMemoryStore(), Generator: &recordingGenerator{}, HistoryLimit: -1})
	require.Error(t, err)
	_, err = New(Config{Store: store.NewMemoryStore(), Generator: &recordingGenerator{}, PersonaTemplate: "{{.Missing}}"})
	require.Error(t, err)
}

func TestGetOrCreateSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.app.GetOrCreateSession(ctx, caller("u-1"), "b-1")
	require.NoError(t, err)
	second, err := f.app.GetOrCreateSession(ctx, caller("u-1"), "b-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	other, err := f.app.GetOrCreateSession(ctx, caller("u-2"), "b-1")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateSessionRequiresCaller(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.app.GetOrCreateSession(context.Background(), Caller{}, "b-1")
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

// racingStore lets a competing request create the session between this
// request's lookup and its insert.
type racingStore struct {
	*store.MemoryStore
	once sync.Once
}

func (r *racingStore) CreateSession(ctx context.Context, s domain.Session) error {
	r.once.Do(func() {
		winner := s
		winner.ID = "winner"
		_ = r.MemoryStore.CreateSession(ctx, winner)
	})
	return r.MemoryStore.CreateSession(ctx, s)
}

func TestGetOrCreateSessionRereadsAfterDuplicate(t *testing.T) {
	st := &racingStore{MemoryStore: store.NewMemoryStore()}
	a, err := New(Config{Store: st, Generator: &recordingGenerator{}})
	require.NoError(t, err)

	sess, err := a.GetOrCreateSession(context.Background(), caller("u-1"), "b-1")
	require.NoError(t, err)
	require.Equal(t, "winner", sess.ID)
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) GetSessionByUserBook(context.Context, string, string) (domain.Session, bool, error) {
	return domain.Session{}, false, errors.New("connection refused")
}

func (brokenStore) ListInsights(context.Context, string, string) ([]domain.Insight, error) {
	return nil, errors.New("connection refused")
}

func TestStorageFailuresAreClassified(t *testing.T) {
	a, err := New(Config{Store: brokenStore{store.NewMemoryStore()}, Generator: &recordingGenerator{}})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.GetOrCreateSession(ctx, caller("u-1"), "b-1")
	require.ErrorIs(t, err, ErrStorageUnavailable)
	_, err = a.ListInsights(ctx, caller("u-1"), "", "b-1")
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestLedgerListsInAppendOrder(t *testing.T) {
	// A frozen clock forces identical timestamps.
	frozen := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, func(c *Config) { c.Now = func() time.Time { return frozen } })
	ctx := context.Background()
	sess, err := f.app.GetOrCreateSession(ctx, caller("u-1"), "b-1")
	require.NoError(t, err)

	const n = 6
	for i := 0; i < n; i++ {
		role := domain.MessageRoleUser
		if i%2 == 1 {
			role = domain.MessageRoleAssistant
		}
		_, err := f.app.AppendMessage(ctx, sess.ID, role, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	items, err := f.app.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, items, n)
	for i, m := range items {
		require.Equal(t, fmt.Sprintf("msg %d", i), m.Content)
		require.Equal(t, sess.ID, m.SessionID)
	}
}

func TestAppendMessageValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.app.AppendMessage(ctx, "s-1", domain.MessageRoleUser, "   ")
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.app.AppendMessage(ctx, "s-1", domain.MessageRole("tool"), "hi")
	require.ErrorIs(t, err, ErrValidation)
	items, err := f.app.ListMessages(ctx, "s-1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestBuildContextPersonaFirstThenFullLedger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.app.GetOrCreateSession(ctx, caller("u-1"), "b-1")
	require.NoError(t, err)

	_, err = f.app.AppendMessage(ctx, sess.ID, domain.MessageRoleUser, "hello")
	require.NoError(t, err)
	_, err = f.app.AppendMessage(ctx, sess.ID, domain.MessageRoleSystem, "stored system note")
	require.NoError(t, err)
	_, err = f.app.AppendMessage(ctx, sess.ID, domain.MessageRoleAssistant, "hi there")
	require.NoError(t, err)

	prompt, err := f.app.BuildContext(ctx, sess.ID, "You are Walden.")
	require.NoError(t, err)
	require.Len(t, prompt, 4)
	require.Equal(t, ai.Message{Role: ai.RoleSystem, Content: "You are Walden."}, prompt[0])
	require.Equal(t, ai.Message{Role: "user", Content: "hello"}, prompt[1])
	require.Equal(t, ai.Message{Role: "system", Content: "stored system note"}, prompt[2])
	require.Equal(t, ai.Message{Role: "assistant", Content: "hi there"}, prompt[3])

	empty, err := f.app.BuildContext(ctx, "no-such-session", "")
	require.NoError(t, err)
	require.Len(t, empty, 1)
	require.Equal(t, fallbackPersona, empty[0].Content)
}

func TestBuildContextHistoryLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.HistoryLimit = 2 })
	ctx := context.Background()
	sess, err := f.app.GetOrCreateSession(ctx, caller("u-1"), "b-1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.app.AppendMessage(ctx, sess.ID, domain.MessageRoleUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	prompt, err := f.app.BuildContext(ctx, sess.ID, "persona")
	require.NoError(t, err)
	require.Len(t, prompt, 3)
	require.Equal(t, "persona", prompt[0].Content)
	require.Equal(t, "m3", prompt[1].Content)
	require.Equal(t, "m4", prompt[2].Content)

	// The ledger itself is never truncated.
	all, err := f.app.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, all, 5)
}
