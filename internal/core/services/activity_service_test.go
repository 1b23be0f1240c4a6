package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

func newActivity(f *fixture, d *recordingDispatcher) *ActivityService {
	s := NewActivityService(f.relations, NewFollowerCache(f.kv, f.relations, time.Minute), f.entities(), d, 15*time.Minute)
	s.now = func() time.Time { return t0 }
	return s
}

func TestFollowUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	// Le cache des followers de b est chaud avant le follow
	refs, err := s.Followers(ctx, "b")
	require.NoError(t, err)
	require.Empty(t, refs)

	require.NoError(t, s.FollowUser(ctx, "a", "b"))

	ok, _ := f.relations.Exists(ctx, "a", domain.UserTarget("b"))
	require.True(t, ok)

	refs, err = s.Followers(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []domain.EntityRef{{ID: "a"}}, refs)

	require.Len(t, d.cmds, 1)
	cmd := d.cmds[0]
	require.Equal(t, "a", cmd.ActorID)
	require.Equal(t, domain.DataUser, cmd.DataType)
	require.Equal(t, domain.ActionFollowed, cmd.ActionType)
	require.Equal(t, domain.EntityRef{ID: "b"}, cmd.Data)
	require.Equal(t, t0, cmd.Timestamp)

	// L'id du record est fixé au dispatch (uuid v7)
	id, err := uuid.Parse(cmd.ID)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())

	// Deuxième follow : relation déjà présente, aucune nouvelle activité
	require.NoError(t, s.FollowUser(ctx, "a", "b"))
	require.Len(t, d.cmds, 1)
}

func TestFollowUser_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	require.ErrorIs(t, s.FollowUser(ctx, "a", "a"), domain.ErrSelfFollow)
	require.ErrorIs(t, s.FollowUser(ctx, "a", "a"), domain.ErrInvalidOperation)
	require.ErrorIs(t, s.FollowUser(ctx, "a", "ghost"), domain.ErrNotFound)
	require.ErrorIs(t, s.FollowUser(ctx, "", "a"), domain.ErrInvalidArgument)
	require.Empty(t, d.cmds)
}

// Le fan-out échoue après le commit de la relation : l'action reste valide.
func TestFollowUser_DispatchFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	d := &recordingDispatcher{err: errBoom}
	s := newActivity(f, d)

	require.NoError(t, s.FollowUser(ctx, "a", "b"))
	ok, _ := f.relations.Exists(ctx, "a", domain.UserTarget("b"))
	require.True(t, ok)
	require.Len(t, d.cmds, 1)
}

func TestUnfollowUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	require.ErrorIs(t, s.UnfollowUser(ctx, "a", "b"), domain.ErrNotFound)
	require.ErrorIs(t, s.UnfollowUser(ctx, "a", "a"), domain.ErrSelfFollow)

	require.NoError(t, s.FollowUser(ctx, "a", "b"))
	following, err := s.Following(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []domain.EntityRef{{ID: "b"}}, following)

	require.NoError(t, s.UnfollowUser(ctx, "a", "b"))
	following, err = s.Following(ctx, "a")
	require.NoError(t, err)
	require.Empty(t, following)

	refs, err := s.Followers(ctx, "b")
	require.NoError(t, err)
	require.Empty(t, refs)
	// Seul le follow produit une activité
	require.Len(t, d.cmds, 1)
}

func TestFollowAndUnfollowChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	f.addChannel("c1", "b", t0, t0)
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	require.ErrorIs(t, s.FollowChannel(ctx, "a", "nope"), domain.ErrNotFound)
	require.ErrorIs(t, s.UnfollowChannel(ctx, "a", "channel-c1"), domain.ErrNotFound)

	require.NoError(t, s.FollowChannel(ctx, "a", "channel-c1"))
	ok, _ := f.relations.Exists(ctx, "a", domain.ChannelTarget("c1"))
	require.True(t, ok)
	require.Len(t, d.cmds, 1)
	require.Equal(t, domain.DataChannel, d.cmds[0].DataType)
	require.Equal(t, domain.ActionFollowed, d.cmds[0].ActionType)
	require.Equal(t, domain.EntityRef{ID: "c1"}, d.cmds[0].Data)

	require.NoError(t, s.UnfollowChannel(ctx, "a", "channel-c1"))
	ok, _ = f.relations.Exists(ctx, "a", domain.ChannelTarget("c1"))
	require.False(t, ok)
}

func TestCreateChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	ch, err := s.CreateChannel(ctx, "a", domain.CreateChannelCmd{Title: "  Analytical Engines! "})
	require.NoError(t, err)
	require.Equal(t, "Analytical Engines!", ch.Title)
	require.True(t, strings.HasPrefix(ch.Slug, "analytical-engines-"))
	require.Equal(t, domain.ChannelPublic, ch.Status)
	require.Equal(t, "a", ch.UserID)
	require.Equal(t, t0, ch.CreatedAt)
	require.Len(t, f.channels.saved, 1)

	// Chemin d'écriture : le cache du channel est peuplé avec le TTL des entités
	raw := f.kv.data[domain.ChannelKey(ch.ID)]
	var cached domain.Channel
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	require.Equal(t, ch.ID, cached.ID)
	require.Equal(t, 15*time.Minute, f.kv.ttls[domain.ChannelKey(ch.ID)])

	require.Len(t, d.cmds, 1)
	require.Equal(t, domain.DataChannel, d.cmds[0].DataType)
	require.Equal(t, domain.ActionCreated, d.cmds[0].ActionType)
	require.Equal(t, domain.EntityRef{ID: ch.ID}, d.cmds[0].Data)
}

func TestCreateChannel_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	_, err := s.CreateChannel(ctx, "a", domain.CreateChannelCmd{Title: "   "})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = s.CreateChannel(ctx, "ghost", domain.CreateChannelCmd{Title: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	f.channels.err = errBoom
	_, err = s.CreateChannel(ctx, "a", domain.CreateChannelCmd{Title: "x"})
	require.ErrorIs(t, err, domain.ErrDependency)
	require.Empty(t, d.cmds)
}

func TestConnectBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	f.addChannel("c1", "a", t0.Add(-time.Hour), t0.Add(-time.Hour))
	f.addBlock("b1", "b", t0, t0)
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	require.ErrorIs(t, s.ConnectBlock(ctx, "b", "channel-c1", "b1"), domain.ErrForbidden)
	require.ErrorIs(t, s.ConnectBlock(ctx, "a", "channel-c1", "ghost"), domain.ErrNotFound)
	require.ErrorIs(t, s.ConnectBlock(ctx, "a", "nope", "b1"), domain.ErrNotFound)
	require.Empty(t, d.cmds)

	require.NoError(t, s.ConnectBlock(ctx, "a", "channel-c1", "b1"))
	require.Equal(t, []connection{{"c1", "b1", "a"}}, f.channels.connections)
	require.Equal(t, t0, f.channels.byID["c1"].UpdatedAt)

	var cached domain.Channel
	require.NoError(t, json.Unmarshal([]byte(f.kv.data[domain.ChannelKey("c1")]), &cached))
	require.Equal(t, t0, cached.UpdatedAt)

	require.Len(t, d.cmds, 1)
	require.Equal(t, domain.DataConnection, d.cmds[0].DataType)
	require.Equal(t, domain.ActionConnected, d.cmds[0].ActionType)
	require.Equal(t, domain.ConnectionRef{
		Channel: domain.EntityRef{ID: "c1"},
		Block:   domain.EntityRef{ID: "b1"},
	}, d.cmds[0].Data)
}

// Bout en bout en mode inline : follow -> fan-out -> lecture hydratée du feed.
func TestActivityToHydratedFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	f.addUser("c", "Grace", "Hopper")

	followers := NewFollowerCache(f.kv, f.relations, time.Minute)
	fanout := NewFanOutWriter(f.feed, followers, 100, 0)
	s := NewActivityService(f.relations, followers, f.entities(), DispatchFunc(fanout.Publish), time.Minute)
	s.now = func() time.Time { return t0 }
	feed := NewFeedService(f.feed, NewHydrator(f.entities()), NewDefaultFeed(f.entities(), 0))

	// c suit a, puis a suit b : l'activité de a arrive chez a et c
	require.NoError(t, s.FollowUser(ctx, "c", "a"))
	require.NoError(t, s.FollowUser(ctx, "a", "b"))

	entries, err := feed.GetFeed(ctx, domain.FeedRequest{UserID: "c", Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Ada Lovelace", entries[0].Actor.FullName)
	require.Equal(t, "b", entries[0].Data.(*domain.PublicUser).ID)

	entries, err = feed.GetFeed(ctx, domain.FeedRequest{UserID: "b", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = feed.GetFeed(ctx, domain.FeedRequest{Limit: 10})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestFollowChannel_RepeatedFollowDispatchesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	f.addChannel("c1", "b", t0, t0)
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	require.NoError(t, s.FollowChannel(ctx, "a", "channel-c1"))
	require.NoError(t, s.FollowChannel(ctx, "a", "channel-c1"))
	require.Len(t, d.cmds, 1)

	f.relations.err = errBoom
	require.ErrorIs(t, s.FollowChannel(ctx, "a", "channel-c1"), domain.ErrDependency)
	require.Len(t, d.cmds, 1)
}

// Un channel privé reste hors des feeds : ni création, ni connexion, ni follow ne sont diffusés.
func TestPrivateChannelIsNeverFannedOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addUser("a", "Ada", "Lovelace")
	f.addUser("b", "Alan", "Turing")
	f.addBlock("b1", "a", t0, t0)
	d := &recordingDispatcher{}
	s := newActivity(f, d)

	ch, err := s.CreateChannel(ctx, "a", domain.CreateChannelCmd{Title: "Notes", Status: domain.ChannelPrivate})
	require.NoError(t, err)
	require.Equal(t, domain.ChannelPrivate, ch.Status)
	require.Len(t, f.channels.saved, 1)
	require.True(t, f.kv.has(domain.ChannelKey(ch.ID)))

	require.NoError(t, s.ConnectBlock(ctx, "a", ch.Slug, "b1"))
	require.Len(t, f.channels.connections, 1)

	require.NoError(t, s.FollowChannel(ctx, "b", ch.Slug))
	ok, _ := f.relations.Exists(ctx, "b", domain.ChannelTarget(ch.ID))
	require.True(t, ok)

	require.Empty(t, d.cmds)
}

func TestFeedService_FeedSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.relations.follow("B", domain.UserTarget("A"))
	fanout := newWriter(f, 100, 0)
	feed := NewFeedService(f.feed, NewHydrator(f.entities()), NewDefaultFeed(f.entities(), 0))

	require.NoError(t, fanout.Publish(ctx, followCmd("A", "X", t0)))
	require.NoError(t, fanout.Publish(ctx, followCmd("A", "Y", t0.Add(time.Second))))

	n, err := feed.FeedSize(ctx, "B")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = feed.FeedSize(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = feed.FeedSize(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
