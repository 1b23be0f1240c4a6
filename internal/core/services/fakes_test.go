package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

var errBoom = errors.New("boom")

// --- KV ---

type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	gets    int
	sets    int
	getErr  error
	setErr  error
	deleted []string
}

func newMemKV() *memKV {
	return &memKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

func (m *memKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// --- RELATIONS ---

type memRelations struct {
	mu      sync.Mutex
	follows map[string]map[domain.Target]bool
	streams int
	err     error
}

func newMemRelations() *memRelations {
	return &memRelations{follows: map[string]map[domain.Target]bool{}}
}

func (m *memRelations) follow(actor string, t domain.Target) {
	if m.follows[actor] == nil {
		m.follows[actor] = map[domain.Target]bool{}
	}
	m.follows[actor][t] = true
}

func (m *memRelations) EnsureSchema(context.Context) error { return nil }

func (m *memRelations) CreateRelation(_ context.Context, actorID string, t domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.follow(actorID, t)
	return nil
}

func (m *memRelations) DeleteRelation(_ context.Context, actorID string, t domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.follows[actorID], t)
	return nil
}

func (m *memRelations) Exists(_ context.Context, actorID string, t domain.Target) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.follows[actorID][t], m.err
}

func (m *memRelations) StreamFollowers(_ context.Context, userID string, batchSize int, yield func([]string) error) error {
	m.mu.Lock()
	m.streams++
	if m.err != nil {
		m.mu.Unlock()
		return m.err
	}
	var ids []string
	for actor, targets := range m.follows {
		if targets[domain.UserTarget(userID)] {
			ids = append(ids, actor)
		}
	}
	m.mu.Unlock()

	sort.Strings(ids)
	for chunk := range slices.Chunk(ids, batchSize) {
		if err := yield(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRelations) ListFollowing(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	ids := []string{}
	for t := range m.follows[userID] {
		if t.Kind == domain.TargetUser {
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- FEED STORE ---

// memFeed reproduit le sorted set : tri par score puis ordre d'insertion, trim des plus anciens.
// Un record déjà présent (même id) n'est pas ajouté deux fois.
type memFeed struct {
	mu      sync.Mutex
	feeds   map[string][]*domain.ActivityRecord
	appends [][]string
	failAt  int // numéro d'appel Append (1-based) qui échoue, 0 = jamais
}

func newMemFeed() *memFeed {
	return &memFeed{feeds: map[string][]*domain.ActivityRecord{}}
}

func (m *memFeed) Append(_ context.Context, userIDs []string, rec *domain.ActivityRecord, maxSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends = append(m.appends, slices.Clone(userIDs))
	if m.failAt == len(m.appends) {
		return errBoom
	}
	for _, uid := range userIDs {
		// ZADD d'un membre existant : pas de doublon
		if slices.ContainsFunc(m.feeds[uid], func(r *domain.ActivityRecord) bool { return r.ID == rec.ID }) {
			continue
		}
		feed := append(m.feeds[uid], rec)
		sort.SliceStable(feed, func(i, j int) bool {
			return feed[i].Timestamp.UnixMilli() < feed[j].Timestamp.UnixMilli()
		})
		if maxSize > 0 && int64(len(feed)) > maxSize {
			feed = feed[int64(len(feed))-maxSize:]
		}
		m.feeds[uid] = feed
	}
	return nil
}

// GetFeed : du plus récent au plus ancien
func (m *memFeed) GetFeed(_ context.Context, req domain.FeedRequest) ([]*domain.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	feed := m.feeds[req.UserID]
	out := []*domain.ActivityRecord{}
	for i := len(feed) - 1 - int(req.Offset); i >= 0 && int64(len(out)) < req.Limit; i-- {
		out = append(out, feed[i])
	}
	return out, nil
}

func (m *memFeed) Count(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.feeds[userID])), nil
}

// --- ENTITY STORES ---

type memUsers struct {
	byID  map[string]*domain.User
	finds int
	err   error
}

func (m *memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.finds++
	if m.err != nil {
		return nil, m.err
	}
	return m.byID[id], nil
}

type connection struct {
	channelID, blockID, userID string
}

type memChannels struct {
	byID        map[string]*domain.Channel
	finds       int
	err         error
	listErr     error
	saved       []*domain.Channel
	connections []connection
}

func (m *memChannels) Save(_ context.Context, ch *domain.Channel) error {
	if m.err != nil {
		return m.err
	}
	cp := *ch
	m.byID[ch.ID] = &cp
	m.saved = append(m.saved, &cp)
	return nil
}

func (m *memChannels) FindByID(_ context.Context, id string) (*domain.Channel, error) {
	m.finds++
	if m.err != nil {
		return nil, m.err
	}
	return m.byID[id], nil
}

func (m *memChannels) FindBySlug(_ context.Context, slug string) (*domain.Channel, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, ch := range m.byID {
		if ch.Slug == slug {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memChannels) ListCreatedAfter(_ context.Context, after time.Time, limit int) ([]*domain.Channel, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var all []*domain.Channel
	for _, ch := range m.byID {
		if ch.CreatedAt.After(after) {
			all = append(all, ch)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all[:min(limit, len(all))], len(all), nil
}

func (m *memChannels) Connect(_ context.Context, channelID, blockID, userID string, at time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.connections = append(m.connections, connection{channelID, blockID, userID})
	m.byID[channelID].UpdatedAt = at
	return nil
}

type memBlocks struct {
	byID    map[string]*domain.Block
	finds   int
	listErr error
}

func (m *memBlocks) FindByID(_ context.Context, id string) (*domain.Block, error) {
	m.finds++
	return m.byID[id], nil
}

func (m *memBlocks) ListCreatedAfter(_ context.Context, after time.Time, limit int) ([]*domain.Block, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var all []*domain.Block
	for _, b := range m.byID {
		if b.CreatedAt.After(after) {
			all = append(all, b)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all[:min(limit, len(all))], len(all), nil
}

// --- DISPATCHER ---

type recordingDispatcher struct {
	cmds []domain.PublishCmd
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, cmd domain.PublishCmd) error {
	d.cmds = append(d.cmds, cmd)
	return d.err
}

// --- FIXTURE ---

type fixture struct {
	kv        *memKV
	relations *memRelations
	feed      *memFeed
	users     *memUsers
	channels  *memChannels
	blocks    *memBlocks
}

func newFixture() *fixture {
	return &fixture{
		kv:        newMemKV(),
		relations: newMemRelations(),
		feed:      newMemFeed(),
		users:     &memUsers{byID: map[string]*domain.User{}},
		channels:  &memChannels{byID: map[string]*domain.Channel{}},
		blocks:    &memBlocks{byID: map[string]*domain.Block{}},
	}
}

func (f *fixture) entities() Entities {
	return Entities{Cache: f.kv, Users: f.users, Channels: f.channels, Blocks: f.blocks}
}

func (f *fixture) addUser(id, first, last string) *domain.User {
	u := &domain.User{
		ID:        id,
		Slug:      id + "-slug",
		FirstName: first,
		LastName:  last,
		FullName:  first + " " + last,
		Email:     id + "@example.com",
	}
	f.users.byID[id] = u
	return u
}

func (f *fixture) addChannel(id, owner string, created, updated time.Time) *domain.Channel {
	ch := &domain.Channel{
		ID:        id,
		Title:     "Channel " + id,
		Slug:      "channel-" + id,
		Status:    domain.ChannelPublic,
		UserID:    owner,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	f.channels.byID[id] = ch
	return ch
}

func (f *fixture) addBlock(id, owner string, created, updated time.Time) *domain.Block {
	b := &domain.Block{
		ID:        id,
		Title:     "Block " + id,
		UserID:    owner,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	f.blocks.byID[id] = b
	return b
}
