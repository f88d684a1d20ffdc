package repo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-doppel-bot/internal/domain"
)

const defaultRedisPrefix = "doppel:"

// NewRedisClient parses redisURL ("redis://host:port/db") and verifies the
// server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// insertIfAbsent writes a fresh registered job unless a live one exists.
// KEYS: job hash, team index set. ARGV: user key, job id, team id, now.
// Returns nil when inserted, otherwise the blocking record as HGETALL pairs.
var insertIfAbsent = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'state')
if st and st ~= 'succeeded' and st ~= 'failed' then
  return redis.call('HGETALL', KEYS[1])
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'id', ARGV[2], 'team_id', ARGV[3], 'user_key', ARGV[1],
  'state', 'registered', 'samples', '0',
  'started_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('SADD', KEYS[2], ARGV[1])
return false
`)

// hsetIfExists updates fields of an existing hash only.
// KEYS: job hash. ARGV: field/value pairs. Returns 1 when updated, 0 if absent.
var hsetIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// RedisJobStore keeps one hash per (team, user key) plus a per-team index
// set of user keys.
type RedisJobStore struct {
	client *redis.Client
	prefix string
}

// NewRedisJobStore wraps an existing client.
func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{client: client, prefix: defaultRedisPrefix}
}

func (s *RedisJobStore) jobKey(teamID, userKey string) string {
	return s.prefix + "job:" + teamID + ":" + userKey
}

func (s *RedisJobStore) teamKey(teamID string) string {
	return s.prefix + "jobs:" + teamID
}

func (s *RedisJobStore) InsertIfAbsent(ctx context.Context, teamID, userKey string) (*domain.TrainingJob, error) {
	now := formatTime(time.Now().UTC())
	res, err := insertIfAbsent.Run(ctx, s.client,
		[]string{s.jobKey(teamID, userKey), s.teamKey(teamID)},
		userKey, uuid.NewString(), teamID, now).StringSlice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeJob(fields)
}

func (s *RedisJobStore) Get(ctx context.Context, teamID, userKey string) (*domain.TrainingJob, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(teamID, userKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(fields)
}

func (s *RedisJobStore) UpdateState(ctx context.Context, teamID, userKey string, state domain.JobState) error {
	now := formatTime(time.Now().UTC())
	args := []any{"state", string(state), "updated_at", now}
	if state.Terminal() {
		args = append(args, "finished_at", now)
	}
	return s.updateExisting(ctx, teamID, userKey, args)
}

func (s *RedisJobStore) SetSamples(ctx context.Context, teamID, userKey string, n int) error {
	return s.updateExisting(ctx, teamID, userKey,
		[]any{"samples", strconv.Itoa(n), "updated_at", formatTime(time.Now().UTC())})
}

func (s *RedisJobStore) updateExisting(ctx context.Context, teamID, userKey string, args []any) error {
	n, err := hsetIfExists.Run(ctx, s.client, []string{s.jobKey(teamID, userKey)}, args...).Int()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisJobStore) Delete(ctx context.Context, teamID, userKey string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(teamID, userKey))
	pipe.SRem(ctx, s.teamKey(teamID), userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// all loads every job of a team ordered like the SQL store: most recently
// updated first, then by user key.
func (s *RedisJobStore) all(ctx context.Context, teamID string) ([]domain.TrainingJob, error) {
	users, err := s.client.SMembers(ctx, s.teamKey(teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if len(users) == 0 {
		return []domain.TrainingJob{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(users))
	for i, u := range users {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(teamID, u))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]domain.TrainingJob, 0, len(users))
	for _, c := range cmds {
		fields := c.Val()
		if len(fields) == 0 {
			continue
		}
		j, err := decodeJob(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].UserKey < out[j].UserKey
	})
	return out, nil
}

func (s *RedisJobStore) ListPage(ctx context.Context, teamID string, offset, limit int) ([]domain.TrainingJob, int64, error) {
	jobs, err := s.all(ctx, teamID)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(jobs))
	if offset >= len(jobs) {
		return []domain.TrainingJob{}, total, nil
	}
	end := len(jobs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return jobs[offset:end], total, nil
}

func (s *RedisJobStore) Succeeded(ctx context.Context, teamID string) ([]domain.TrainingJob, error) {
	jobs, err := s.all(ctx, teamID)
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.State == domain.JobStateSucceeded {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *RedisJobStore) Stats(ctx context.Context, teamID string) (int64, *time.Time, error) {
	jobs, err := s.all(ctx, teamID)
	if err != nil || len(jobs) == 0 {
		return 0, nil, err
	}
	latest := jobs[0].UpdatedAt
	return int64(len(jobs)), &latest, nil
}

// RedisEventLog records inbound event ids with SET NX and a TTL.
type RedisEventLog struct {
	client *redis.Client
	prefix string
}

// NewRedisEventLog wraps an existing client.
func NewRedisEventLog(client *redis.Client) *RedisEventLog {
	return &RedisEventLog{client: client, prefix: defaultRedisPrefix}
}

// Record reports whether (teamID, eventID) was unseen within ttl.
func (l *RedisEventLog) Record(ctx context.Context, teamID, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, l.prefix+"event:"+teamID+":"+eventID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record event: %w", err)
	}
	return ok, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func decodeJob(f map[string]string) (*domain.TrainingJob, error) {
	st, err := domain.ParseJobState(f["state"])
	if err != nil {
		return nil, err
	}
	j := &domain.TrainingJob{
		ID:      f["id"],
		TeamID:  f["team_id"],
		UserKey: f["user_key"],
		State:   st,
	}
	if v := f["samples"]; v != "" {
		if j.Samples, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode samples: %w", err)
		}
	}
	if j.StartedAt, err = parseTime(f["started_at"]); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(f["updated_at"]); err != nil {
		return nil, err
	}
	if v := f["finished_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		j.FinishedAt = &t
	}
	return j, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode time %q: %w", v, err)
	}
	return t, nil
}
