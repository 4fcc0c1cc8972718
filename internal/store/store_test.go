package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisperd/internal/clock"
	"whisperd/internal/domain"
)

func openTest(t *testing.T) *Bolt {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixNow pins the store clock to a sequence that advances one second per
// call, so message timestamps are deterministic.
func fixNow(s *Bolt) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	n := 0
	s.now = func() time.Time {
		t := base.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func mustUser(t *testing.T, s *Bolt, username string) {
	t.Helper()
	require.NoError(t, s.CreateUser(username, "aa", "bb", "cc", ""))
}

func TestUserLifecycle(t *testing.T) {
	s := openTest(t)
	mustUser(t, s, "alice")

	ok, err := s.UserExists("alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UserExists("bob")
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := s.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "online", u.Status)
	assert.NotNil(t, u.X3DHRequests)

	bio := "hello"
	status := "offline"
	require.NoError(t, s.UpdateUser("alice", domain.UserPatch{Biography: &bio, Status: &status}))
	u, err = s.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "hello", u.Biography)
	assert.Equal(t, "offline", u.Status)
	assert.Equal(t, "aa", u.PublicKey)
}

func TestX3DHTakeOnce(t *testing.T) {
	s := openTest(t)
	mustUser(t, s, "alice")

	require.NoError(t, s.AppendX3DH("alice", []byte(`{"n":1}`)))
	require.NoError(t, s.AppendX3DH("alice", []byte(`{"n":2}`)))

	got, err := s.TakeX3DH("alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"n":1}`, string(got[0]))

	got, err = s.TakeX3DH("alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDMLifecycle(t *testing.T) {
	s := openTest(t)
	mustUser(t, s, "alice")
	mustUser(t, s, "bob")

	id, err := s.CreateDM([]string{"alice", "bob", "alice"}, []string{"k1", "k2"})
	require.NoError(t, err)

	info, err := s.GetDM(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, info.Users)
	assert.JSONEq(t, `["k1","k2"]`, info.PublicKeys)
	assert.Nil(t, info.Name)
	assert.Nil(t, info.LatestMessage)

	ok, err := s.DMUsersExist([]string{"bob", "alice"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DMUsersExist([]string{"alice"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UserInDM("alice", id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.SetDMName(id, "pals"))
	info, err = s.GetDM(id)
	require.NoError(t, err)
	require.NotNil(t, info.Name)
	assert.Equal(t, "pals", *info.Name)

	require.NoError(t, s.LeaveDM(id, "bob"))
	info, err = s.GetDM(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, info.Users)

	dms, err := s.UserDMs("bob")
	require.NoError(t, err)
	assert.Empty(t, dms)
	dms, err = s.UserDMs("alice")
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, dms)
}

func TestLatestMessage(t *testing.T) {
	s := openTest(t)
	fixNow(s)
	mustUser(t, s, "alice")
	mustUser(t, s, "bob")
	id, err := s.CreateDM([]string{"alice", "bob"}, nil)
	require.NoError(t, err)
	other, err := s.CreateDM([]string{"alice"}, nil)
	require.NoError(t, err)

	_, err = s.CreateMessage(id, "alice", "first", "sig", 0)
	require.NoError(t, err)
	m2, err := s.CreateMessage(id, "bob", "second", "sig", 0)
	require.NoError(t, err)
	_, err = s.CreateMessage(other, "alice", "elsewhere", "sig", 0)
	require.NoError(t, err)

	info, err := s.GetDM(id)
	require.NoError(t, err)
	require.NotNil(t, info.LatestMessage)
	assert.Equal(t, m2.ID, info.LatestMessage.ID)
	assert.Equal(t, "second", info.LatestMessage.Message)
}

func TestMessagePagination(t *testing.T) {
	s := openTest(t)
	fixNow(s)
	mustUser(t, s, "alice")
	id, err := s.CreateDM([]string{"alice"}, nil)
	require.NoError(t, err)

	var all []domain.Message
	for i := 0; i < 5; i++ {
		m, err := s.CreateMessage(id, "alice", "m", "sig", 0)
		require.NoError(t, err)
		all = append(all, m)
	}

	// Newest two before "now".
	page, err := s.Messages(id, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[4].ID, page[0].ID)
	assert.Equal(t, all[3].ID, page[1].ID)

	// Next page, cursored on the oldest of the previous page.
	cursor, err := clock.Parse(page[1].Timestamp)
	require.NoError(t, err)
	page, err = s.Messages(id, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[2].ID, page[0].ID)
	assert.Equal(t, all[1].ID, page[1].ID)

	// Final page is short.
	cursor, err = clock.Parse(page[1].Timestamp)
	require.NoError(t, err)
	page, err = s.Messages(id, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[0].ID, page[0].ID)
}

func TestMessageTimestampTieBreak(t *testing.T) {
	s := openTest(t)
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	mustUser(t, s, "alice")
	id, err := s.CreateDM([]string{"alice"}, nil)
	require.NoError(t, err)

	_, err = s.CreateMessage(id, "alice", "a", "sig", 0)
	require.NoError(t, err)
	m2, err := s.CreateMessage(id, "alice", "b", "sig", 0)
	require.NoError(t, err)

	info, err := s.GetDM(id)
	require.NoError(t, err)
	require.NotNil(t, info.LatestMessage)
	assert.Equal(t, m2.ID, info.LatestMessage.ID)
}

func TestSelfDestructTimestamp(t *testing.T) {
	s := openTest(t)
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	mustUser(t, s, "alice")
	id, err := s.CreateDM([]string{"alice"}, nil)
	require.NoError(t, err)

	m, err := s.CreateMessage(id, "alice", "boom", "sig", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, m.DeleteTimestamp)
	assert.Equal(t, clock.Format(fixed.Add(30*time.Second)), *m.DeleteTimestamp)

	m2, err := s.CreateMessage(id, "alice", "stays", "sig", 0)
	require.NoError(t, err)
	assert.Nil(t, m2.DeleteTimestamp)
}

func TestMessageEditPinDelete(t *testing.T) {
	s := openTest(t)
	fixNow(s)
	mustUser(t, s, "alice")
	mustUser(t, s, "bob")
	id, err := s.CreateDM([]string{"alice", "bob"}, nil)
	require.NoError(t, err)

	m1, err := s.CreateMessage(id, "alice", "one", "s1", 0)
	require.NoError(t, err)
	m2, err := s.CreateMessage(id, "alice", "two", "s2", 0)
	require.NoError(t, err)

	edited := "one!"
	sig := "s1b"
	pin := true
	require.NoError(t, s.UpdateMessage(m1.ID, domain.MessagePatch{Message: &edited, Signature: &sig}))
	require.NoError(t, s.UpdateMessage(m2.ID, domain.MessagePatch{Pinned: &pin}))

	got, err := s.GetMessage(m1.ID)
	require.NoError(t, err)
	assert.Equal(t, "one!", got.Message)
	assert.Equal(t, "s1b", got.Signature)
	assert.False(t, got.Pinned)

	pinned, err := s.PinnedMessages(id)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, m2.ID, pinned[0].ID)

	in, err := s.MessageInUserDM(m1.ID, "bob")
	require.NoError(t, err)
	assert.True(t, in)
	in, err = s.MessageInUserDM(m1.ID, "carol")
	require.NoError(t, err)
	assert.False(t, in)

	require.NoError(t, s.DeleteMessage(m2.ID))
	ok, err := s.MessageExists(m2.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	info, err := s.GetDM(id)
	require.NoError(t, err)
	require.NotNil(t, info.LatestMessage)
	assert.Equal(t, m1.ID, info.LatestMessage.ID)
}

func TestReactions(t *testing.T) {
	s := openTest(t)
	fixNow(s)
	mustUser(t, s, "alice")
	id, err := s.CreateDM([]string{"alice"}, nil)
	require.NoError(t, err)
	m, err := s.CreateMessage(id, "alice", "hi", "sig", 0)
	require.NoError(t, err)

	r1, err := s.CreateReaction(m.ID, "alice", "enc1", "sig1")
	require.NoError(t, err)
	r2, err := s.CreateReaction(m.ID, "alice", "enc2", "sig2")
	require.NoError(t, err)

	got, err := s.GetMessage(m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 2)
	assert.Equal(t, r1, got.Reactions[0].ID)
	assert.Equal(t, "enc2", got.Reactions[1].Reaction)
	assert.Equal(t, "sig2", got.Reactions[1].Signature)

	r, err := s.GetReaction(r1)
	require.NoError(t, err)
	assert.Equal(t, "alice", r.Sender)

	msgID, err := s.DeleteReaction(r1)
	require.NoError(t, err)
	assert.Equal(t, m.ID, msgID)
	ok, err := s.ReactionExists(r1)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.GetMessage(m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, r2, got.Reactions[0].ID)

	// Deleting the message sweeps its remaining reactions.
	require.NoError(t, s.DeleteMessage(m.ID))
	ok, err = s.ReactionExists(r2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageCursorOutOfRange(t *testing.T) {
	s := openTest(t)
	fixNow(s)
	mustUser(t, s, "alice")
	id, err := s.CreateDM([]string{"alice"}, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(id, "alice", "m", "sig", 0)
		require.NoError(t, err)
	}

	// UnixNano wraps for these; the history must not.
	page, err := s.Messages(id, time.Date(2600, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	page, err = s.Messages(id, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestRelations(t *testing.T) {
	s := openTest(t)
	for _, u := range []string{"alice", "bob", "carol"} {
		mustUser(t, s, u)
	}

	require.NoError(t, s.CreateRelation("alice", "bob", domain.StatusRequest))
	require.NoError(t, s.CreateRelation("carol", "alice", domain.StatusFriend))
	require.NoError(t, s.CreateRelation("alice", "carol", domain.StatusBlock))

	ok, err := s.IsRelation("alice", "bob", domain.StatusRequest)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsRelation("bob", "alice", domain.StatusRequest)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetRelationStatus("alice", "bob", domain.StatusFriend))
	ok, err = s.IsRelation("alice", "bob", domain.StatusFriend)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Error(t, s.SetRelationStatus("bob", "carol", domain.StatusFriend))

	out, err := s.OutgoingOfStatus("alice", domain.StatusBlock)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, out)

	in, err := s.IncomingOfStatus("alice", domain.StatusFriend)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, in)

	both, err := s.OfStatus("alice", domain.StatusFriend)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, both)

	require.NoError(t, s.DeleteRelation("alice", "bob"))
	ok, err = s.IsRelation("alice", "bob", domain.StatusFriend)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelationKeysDoNotAlias(t *testing.T) {
	s := openTest(t)

	// Names containing NUL must not collapse onto another pair's edge.
	require.NoError(t, s.CreateRelation("alice", "bob\x00carol", domain.StatusBlock))

	ok, err := s.IsRelation("alice\x00bob", "carol", domain.StatusBlock)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.IsRelation("alice", "bob\x00carol", domain.StatusBlock)
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := s.OutgoingOfStatus("alice", domain.StatusBlock)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob\x00carol"}, out)
	out, err = s.OutgoingOfStatus("alice\x00bob", domain.StatusBlock)
	require.NoError(t, err)
	assert.Empty(t, out)
}
