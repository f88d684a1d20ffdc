package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-doppel-bot/internal/conversation"
	"github.com/tbourn/go-doppel-bot/internal/domain"
	"github.com/tbourn/go-doppel-bot/internal/identity"
	"github.com/tbourn/go-doppel-bot/internal/repo"
)

// ----- In-memory job store -----

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.TrainingJob

	insertErr error
	updateErr error
	deletes   int
}

func newMemStore() *memStore { return &memStore{jobs: map[string]*domain.TrainingJob{}} }

func key(team, user string) string { return team + "/" + user }

func (m *memStore) put(j domain.TrainingJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[key(j.TeamID, j.UserKey)] = &j
}

func (m *memStore) InsertIfAbsent(_ context.Context, team, user string) (*domain.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if cur, ok := m.jobs[key(team, user)]; ok && !cur.State.Terminal() {
		cp := *cur
		return &cp, nil
	}
	now := time.Now().UTC()
	m.jobs[key(team, user)] = &domain.TrainingJob{
		ID: "j-" + user, TeamID: team, UserKey: user,
		State: domain.JobStateRegistered, StartedAt: now, UpdatedAt: now,
	}
	return nil, nil
}

func (m *memStore) Get(_ context.Context, team, user string) (*domain.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key(team, user)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) UpdateState(_ context.Context, team, user string, s domain.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	j, ok := m.jobs[key(team, user)]
	if !ok {
		return repo.ErrNotFound
	}
	j.State = s
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) SetSamples(_ context.Context, team, user string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key(team, user)]
	if !ok {
		return repo.ErrNotFound
	}
	j.Samples = n
	return nil
}

func (m *memStore) Delete(_ context.Context, team, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.jobs, key(team, user))
	return nil
}

func (m *memStore) teamJobs(team string) []domain.TrainingJob {
	var out []domain.TrainingJob
	for _, j := range m.jobs {
		if j.TeamID == team {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].UpdatedAt.Equal(out[b].UpdatedAt) {
			return out[a].UpdatedAt.After(out[b].UpdatedAt)
		}
		return out[a].UserKey < out[b].UserKey
	})
	return out
}

func (m *memStore) ListPage(_ context.Context, team string, offset, limit int) ([]domain.TrainingJob, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.teamJobs(team)
	total := int64(len(all))
	if offset >= len(all) {
		return []domain.TrainingJob{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memStore) Succeeded(_ context.Context, team string) ([]domain.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrainingJob
	for _, j := range m.teamJobs(team) {
		if j.State == domain.JobStateSucceeded {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) Stats(_ context.Context, team string) (int64, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.teamJobs(team)
	if len(all) == 0 {
		return 0, nil, nil
	}
	t := all[0].UpdatedAt
	return int64(len(all)), &t, nil
}

// ----- Remote fakes -----

type fakeCollector struct {
	samples int
	err     error
	block   bool
	calls   int
}

func (c *fakeCollector) Collect(ctx context.Context, user, team, token string) (int, error) {
	c.calls++
	if c.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return c.samples, c.err
}

type fakeFineTuner struct {
	err   error
	calls int
}

func (f *fakeFineTuner) Train(ctx context.Context, user, team string) error {
	f.calls++
	return f.err
}

type fakeGenerator struct {
	out      string
	err      error
	gotUser  string
	gotInput string
}

func (g *fakeGenerator) Generate(_ context.Context, team, user, prompt string, _ domain.SamplingConfig) (string, error) {
	g.gotUser, g.gotInput = user, prompt
	return g.out, g.err
}

// ----- Workspace fakes -----

type fakeDirectory struct {
	table identity.Table
	self  string
	err   error
}

func (d *fakeDirectory) Identities(context.Context, string) (identity.Table, error) {
	return d.table, d.err
}

func (d *fakeDirectory) SelfID(context.Context, string) (string, error) { return d.self, d.err }

type fakeThreads struct {
	msgs []conversation.Message
	err  error
}

func (f *fakeThreads) Thread(context.Context, string, string) ([]conversation.Message, error) {
	return f.msgs, f.err
}

type fakePoster struct {
	mu    sync.Mutex
	posts []Post
	fail  map[string]bool
}

func (p *fakePoster) Post(_ context.Context, in Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[in.Text] {
		return errors.New("channel_not_found")
	}
	p.posts = append(p.posts, in)
	return nil
}

type fakeResponder struct {
	mu   sync.Mutex
	msgs []string
	urls []string
}

func (r *fakeResponder) Respond(_ context.Context, url, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *fakeResponder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

// recorder collects progress messages.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) progress(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
