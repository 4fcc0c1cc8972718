package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisperd/internal/clock"
	"whisperd/internal/crypto"
	"whisperd/internal/domain"
	"whisperd/internal/notify"
	"whisperd/internal/scheduler"
	"whisperd/internal/store"
)

type emitted struct {
	room  string
	event string
	skip  string
	data  any
}

type fakeHub struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
	log   []emitted
}

func newFakeHub() *fakeHub { return &fakeHub{rooms: make(map[string]map[string]struct{})} }

func (h *fakeHub) Join(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}
}

func (h *fakeHub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], connID)
}

func (h *fakeHub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.rooms {
		delete(members, connID)
	}
}

func (h *fakeHub) Broadcast(event string, payload any, skip string) {
	h.record(emitted{event: event, skip: skip, data: payload})
}

func (h *fakeHub) ToRoom(room, event string, payload any) {
	h.record(emitted{room: room, event: event, data: payload})
}

func (h *fakeHub) ToRoomSkip(room, event string, payload any, skip string) {
	h.record(emitted{room: room, event: event, skip: skip, data: payload})
}

func (h *fakeHub) record(e emitted) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, e)
}

func (h *fakeHub) find(room, event string) (emitted, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.log {
		if e.room == room && e.event == event {
			return e, true
		}
	}
	return emitted{}, false
}

func (h *fakeHub) count(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.log {
		if e.event == event {
			n++
		}
	}
	return n
}

var _ domain.Broadcaster = (*fakeHub)(nil)

type testEnv struct {
	t   *testing.T
	srv *Server
	hub *fakeHub
	st  *store.Bolt
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tasks := clock.NewTaskSet()
	t.Cleanup(tasks.Shutdown)

	hub := newFakeHub()
	router := notify.NewRouter(hub, st, tasks, zerolog.Nop())
	sched := scheduler.New(tasks, zerolog.Nop())
	srv := New(context.Background(), st, router, sched, tasks, zerolog.Nop())
	return &testEnv{t: t, srv: srv, hub: hub, st: st}
}

func (e *testEnv) call(connID, event, data string) (bool, any) {
	e.t.Helper()
	return e.srv.HandleEvent(context.Background(), connID, event, json.RawMessage(data))
}

func (e *testEnv) mustCall(connID, event, data string) any {
	e.t.Helper()
	ok, res := e.call(connID, event, data)
	require.True(e.t, ok, "event %s failed: %v", event, res)
	return res
}

func (e *testEnv) mustFail(connID, event, data, wantMsg string) {
	e.t.Helper()
	ok, res := e.call(connID, event, data)
	require.False(e.t, ok, "event %s unexpectedly succeeded", event)
	assert.Equal(e.t, wantMsg, res)
}

// register creates an account with coherent key material.
func (e *testEnv) register(connID, username string) crypto.Keypair {
	e.t.Helper()
	kp, err := crypto.GenerateKeypair()
	require.NoError(e.t, err)
	spkKp, err := crypto.GenerateKeypair()
	require.NoError(e.t, err)
	sig, err := kp.SignHex(spkKp.PublicHex)
	require.NoError(e.t, err)
	e.mustCall(connID, "register", fmt.Sprintf(
		`{"username":%q,"public_key":%q,"spk":%q,"sig":%q,"own_storage":""}`,
		username, kp.PublicHex, spkKp.PublicHex, sig))
	return kp
}

func (e *testEnv) login(connID, username string, kp crypto.Keypair) {
	e.t.Helper()
	chal := e.mustCall(connID, "login", fmt.Sprintf(`{"username":%q}`, username))
	resp, err := kp.ChallengeResponse(chal.(string))
	require.NoError(e.t, err)
	res := e.mustCall(connID, "login_challenge_response", fmt.Sprintf(`{"response":%q}`, resp))
	assert.Equal(e.t, true, res)
}

func (e *testEnv) user(connID, username string) crypto.Keypair {
	e.t.Helper()
	kp := e.register("reg-"+connID, username)
	e.login(connID, username, kp)
	return kp
}

func (e *testEnv) befriend(connA, userA, connB, userB string) {
	e.t.Helper()
	e.mustCall(connA, "send_friend_request", fmt.Sprintf(`{"username":%q}`, userB))
	e.mustCall(connB, "ack_friend_request", fmt.Sprintf(`{"username":%q,"accept":true}`, userA))
}

// signed returns a hex payload and a signature by kp over it.
func signed(t *testing.T, kp crypto.Keypair, plaintext string) (string, string) {
	t.Helper()
	msg := hex.EncodeToString([]byte(plaintext))
	sig, err := kp.SignHex(msg)
	require.NoError(t, err)
	return msg, sig
}

// makeDM builds a friended pair and an individual DM between them,
// returning the DM id.
func makeDM(t *testing.T, e *testEnv) (int64, crypto.Keypair, crypto.Keypair) {
	t.Helper()
	kpA := e.user("ca", "alice")
	kpB := e.user("cb", "bob")
	e.befriend("ca", "alice", "cb", "bob")

	ekKp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	bob, err := e.st.GetUser("bob")
	require.NoError(t, err)
	treeKp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	res := e.mustCall("ca", "create_dm", fmt.Sprintf(
		`{"usernames":["bob"],"messages":[{"spk":%q,"ek":%q}],"key_tree":[%q]}`,
		bob.SPK, ekKp.PublicHex, treeKp.PublicHex))
	return res.(int64), kpA, kpB
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)
	kp := e.register("c1", "alice")

	res := e.mustCall("c1", "username_exists", `{"username":"alice"}`)
	assert.Equal(t, true, res)
	res = e.mustCall("c1", "username_exists", `{"username":"bob"}`)
	assert.Equal(t, false, res)

	e.login("c1", "alice", kp)

	// Logged-in sessions can read their own full profile.
	full := e.mustCall("c1", "get_full_user", `{}`)
	assert.Equal(t, "alice", full.(domain.FullProfile).Username)
}

func TestRegisterRejectsBadKeys(t *testing.T) {
	e := newTestEnv(t)
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	spkKp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	otherKp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	// Signature by the wrong identity key.
	badSig, err := otherKp.SignHex(spkKp.PublicHex)
	require.NoError(t, err)
	e.mustFail("c1", "register", fmt.Sprintf(
		`{"username":"alice","public_key":%q,"spk":%q,"sig":%q,"own_storage":""}`,
		kp.PublicHex, spkKp.PublicHex, badSig), "Malformed data.")

	// Public key that is not a curve point.
	sig, err := kp.SignHex(spkKp.PublicHex)
	require.NoError(t, err)
	e.mustFail("c1", "register", fmt.Sprintf(
		`{"username":"alice","public_key":"zz","spk":%q,"sig":%q,"own_storage":""}`,
		spkKp.PublicHex, sig), "Malformed data.")

	// Missing key in the payload.
	e.mustFail("c1", "register", `{"username":"alice"}`, "Invalid data format.")
}

func TestDuplicateUsername(t *testing.T) {
	e := newTestEnv(t)
	e.register("c1", "alice")

	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	spkKp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	sig, err := kp.SignHex(spkKp.PublicHex)
	require.NoError(t, err)
	ok, res := e.call("c2", "register", fmt.Sprintf(
		`{"username":"alice","public_key":%q,"spk":%q,"sig":%q,"own_storage":""}`,
		kp.PublicHex, spkKp.PublicHex, sig))
	require.False(t, ok)
	assert.Contains(t, res, "Username already exists.")
}

func TestLoginWrongResponseCountsDown(t *testing.T) {
	e := newTestEnv(t)
	e.register("c1", "alice")

	e.mustCall("c2", "login", `{"username":"alice"}`)
	ok, res := e.call("c2", "login_challenge_response", `{"response":"ffff"}`)
	require.False(t, ok)
	assert.Equal(t, "Incorrect response. 9 attempts left before lockout.", res)

	// The challenge was consumed by the failed attempt.
	ok, res = e.call("c2", "login_challenge_response", `{"response":"ffff"}`)
	require.False(t, ok)
	assert.Equal(t, "Not expecting a challenge response right now. 8 attempts left before lockout.", res)
}

func TestLockoutAfterTenFailures(t *testing.T) {
	e := newTestEnv(t)
	e.register("c1", "alice")

	for i := 0; i < 9; i++ {
		ok, _ := e.call("c2", "login", `{"username":"nobody"}`)
		require.False(t, ok)
	}
	ok, res := e.call("c2", "login", `{"username":"nobody"}`)
	require.False(t, ok)
	assert.Equal(t, "User does not exist. You have been locked out for 60 seconds.", res)

	ok, res = e.call("c2", "login", `{"username":"alice"}`)
	require.False(t, ok)
	assert.Equal(t, "You have been locked out for 60 seconds.", res)

	// Other connections are unaffected.
	ok, _ = e.call("c3", "login", `{"username":"alice"}`)
	require.True(t, ok)
}

func TestNotLoggedIn(t *testing.T) {
	e := newTestEnv(t)
	e.mustFail("c1", "get_friends", `{}`, "Not logged in.")
	e.mustFail("c1", "get_dms", `{}`, "Not logged in.")
}

func TestUnknownEvent(t *testing.T) {
	e := newTestEnv(t)
	ok, res := e.call("c1", "frobnicate", `{}`)
	require.False(t, ok)
	assert.Equal(t, "Unknown event.", res)
}

func TestGetUserOfflineOverride(t *testing.T) {
	e := newTestEnv(t)
	e.user("ca", "alice")
	e.register("cb", "bob")

	// Bob never logged in, so he reads as offline no matter the stored
	// status.
	res := e.mustCall("ca", "get_user", `{"username":"bob"}`)
	assert.Equal(t, "offline", res.(domain.Profile).Status)

	e.mustFail("ca", "get_user", `{"username":"nobody"}`, "User does not exist.")
}

func TestSetUserBroadcastsProfile(t *testing.T) {
	e := newTestEnv(t)
	e.user("ca", "alice")

	e.mustCall("ca", "set_user", `{"biography":"hello","status":"busy"}`)
	res := e.mustCall("ca", "get_full_user", `{}`)
	full := res.(domain.FullProfile)
	assert.Equal(t, "hello", full.Biography)
	assert.Equal(t, "busy", full.Status)

	found, ok := e.hub.find("", "profile_notification")
	require.True(t, ok)
	assert.Equal(t, "ca", found.skip)

	e.mustFail("ca", "set_user", `{}`, "Invalid data format.")
	e.mustFail("ca", "set_user", fmt.Sprintf(`{"biography":%q}`, strings.Repeat("a", 501)), "Invalid data format.")
}

func TestFriendFlow(t *testing.T) {
	e := newTestEnv(t)
	e.user("ca", "alice")
	e.user("cb", "bob")

	e.mustFail("ca", "send_friend_request", `{"username":"alice"}`, "You cannot friend yourself.")
	e.mustFail("ca", "send_friend_request", `{"username":"nobody"}`, "Could not friend that person.")

	e.mustCall("ca", "send_friend_request", `{"username":"bob"}`)
	e.mustFail("ca", "send_friend_request", `{"username":"bob"}`, "You have already sent a request.")
	e.mustFail("cb", "send_friend_request", `{"username":"alice"}`, "That user has already sent a request to you.")

	_, ok := e.hub.find(notify.UserRoom("bob"), "friend_request_notification")
	assert.True(t, ok)

	res := e.mustCall("cb", "get_friend_requests", `{}`)
	assert.Equal(t, []string{"alice"}, res)
	res = e.mustCall("ca", "get_outgoing_requests", `{}`)
	assert.Equal(t, []string{"bob"}, res)

	e.mustCall("cb", "ack_friend_request", `{"username":"alice","accept":true}`)
	_, ok = e.hub.find(notify.UserRoom("alice"), "friend_request_accept_notification")
	assert.True(t, ok)

	res = e.mustCall("ca", "get_friends", `{}`)
	assert.Equal(t, []string{"bob"}, res)
	e.mustFail("ca", "send_friend_request", `{"username":"bob"}`, "You are already friends.")

	e.mustCall("ca", "unfriend", `{"username":"bob"}`)
	res = e.mustCall("ca", "get_friends", `{}`)
	assert.Empty(t, res)
	e.mustFail("ca", "unfriend", `{"username":"bob"}`, "You are not friends with that user.")
}

func TestAckFriendRequestTruthiness(t *testing.T) {
	e := newTestEnv(t)
	e.user("ca", "alice")
	e.user("cb", "bob")

	// An empty list is falsy, so this declines.
	e.mustCall("ca", "send_friend_request", `{"username":"bob"}`)
	e.mustCall("cb", "ack_friend_request", `{"username":"alice","accept":[]}`)
	assert.Empty(t, e.mustCall("cb", "get_friends", `{}`))

	// A non-empty list is truthy, so this accepts.
	e.mustCall("ca", "send_friend_request", `{"username":"bob"}`)
	e.mustCall("cb", "ack_friend_request", `{"username":"alice","accept":[1]}`)
	assert.Equal(t, []string{"alice"}, e.mustCall("cb", "get_friends", `{}`))
}

func TestBlockLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.user("ca", "alice")
	e.user("cb", "bob")
	e.befriend("ca", "alice", "cb", "bob")

	// Blocking tears the friendship down.
	e.mustCall("ca", "block_user", `{"username":"bob"}`)
	assert.Empty(t, e.mustCall("ca", "get_friends", `{}`))
	assert.Equal(t, []string{"bob"}, e.mustCall("ca", "get_blocked", `{}`))
	e.mustFail("ca", "block_user", `{"username":"bob"}`, "You cannot block that user.")

	// Blocked target cannot friend the blocker.
	e.mustFail("cb", "send_friend_request", `{"username":"alice"}`, "Could not friend that person.")

	// The blocker sending a request lifts their own block.
	e.mustCall("ca", "send_friend_request", `{"username":"bob"}`)
	assert.Empty(t, e.mustCall("ca", "get_blocked", `{}`))

	e.mustFail("ca", "unblock_user", `{"username":"bob"}`, "You cannot unblock that user.")
}

func TestCreateDMAndX3DH(t *testing.T) {
	e := newTestEnv(t)
	dmID, _, _ := makeDM(t, e)

	// Bob was online, so the bundle went out live.
	found, ok := e.hub.find(notify.UserRoom("bob"), "x3dh_notification")
	require.True(t, ok)
	bundle := found.data.(domain.X3DHBundle)
	assert.Equal(t, "alice", bundle.Sender)
	assert.Equal(t, 1, bundle.Position)
	assert.Equal(t, dmID, bundle.ID)

	res := e.mustCall("ca", "get_dms", `{}`)
	assert.Equal(t, []int64{dmID}, res)

	detail := e.mustCall("ca", "get_dm", fmt.Sprintf(`{"id":%d}`, dmID)).(dmDetail)
	assert.ElementsMatch(t, []string{"alice", "bob"}, detail.Users)
	assert.Empty(t, detail.UsersInCall)
	assert.Empty(t, detail.ScheduledMessages)

	// A duplicate individual DM is rejected.
	bob, err := e.st.GetUser("bob")
	require.NoError(t, err)
	ekKp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	e.mustFail("ca", "create_dm", fmt.Sprintf(
		`{"usernames":["bob"],"messages":[{"spk":%q,"ek":%q}],"key_tree":[]}`,
		bob.SPK, ekKp.PublicHex), "DM with that user already exists.")
}

func TestCreateDMQueuesX3DHOffline(t *testing.T) {
	e := newTestEnv(t)
	e.user("ca", "alice")
	e.register("cb-reg", "bob")
	e.befriend2(t)

	ekKp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	bob, err := e.st.GetUser("bob")
	require.NoError(t, err)
	e.mustCall("ca", "create_dm", fmt.Sprintf(
		`{"usernames":["bob"],"messages":[{"spk":%q,"ek":%q}],"key_tree":[]}`,
		bob.SPK, ekKp.PublicHex))

	// Nothing live; the bundle sits in bob's inbox.
	_, ok := e.hub.find(notify.UserRoom("bob"), "x3dh_notification")
	assert.False(t, ok)
	stored, err := e.st.TakeX3DH("bob")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

// befriend2 wires alice and bob as friends directly through the store,
// for tests where bob stays offline.
func (e *testEnv) befriend2(t *testing.T) {
	t.Helper()
	require.NoError(t, e.st.CreateRelation("alice", "bob", domain.StatusFriend))
}

func TestSendAndReadMessages(t *testing.T) {
	e := newTestEnv(t)
	dmID, kpA, _ := makeDM(t, e)

	msg, sig := signed(t, kpA, "hello bob")
	e.mustCall("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":0,"delete":0}`, dmID, msg, sig))

	found, ok := e.hub.find(notify.DMRoom(dmID), "message_notification")
	require.True(t, ok)
	m := found.data.(domain.Message)
	assert.Equal(t, "alice", m.Sender)
	assert.Equal(t, msg, m.Message)

	got := e.mustCall("cb", "get_message", fmt.Sprintf(`{"id":%d}`, m.ID)).(domain.Message)
	assert.Equal(t, msg, got.Message)

	history := e.mustCall("ca", "get_message_history", fmt.Sprintf(
		`{"id":%d,"cursor":%q,"limit":10}`, dmID, clock.NowDelta(time.Hour))).([]domain.Message)
	require.Len(t, history, 1)

	// Bad signature is rejected before anything is stored.
	e.mustFail("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":0,"delete":0}`, dmID, msg, "ff"), "Malformed data.")

	// Outsiders have no access.
	e.user("cc", "carol")
	e.mustFail("cc", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":0,"delete":0}`, dmID, msg, sig),
		"You do not have access to that DM.")
	e.mustFail("cc", "get_message", fmt.Sprintf(`{"id":%d}`, m.ID), "You do not have access to that Message.")
}

func TestUnfriendedPairCannotMessage(t *testing.T) {
	e := newTestEnv(t)
	dmID, kpA, _ := makeDM(t, e)
	e.mustCall("ca", "unfriend", `{"username":"bob"}`)

	msg, sig := signed(t, kpA, "still there?")
	e.mustFail("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":0,"delete":0}`, dmID, msg, sig),
		"You need to be friends to send messages here.")
	e.mustFail("ca", "ping_typing", fmt.Sprintf(`{"id":%d}`, dmID),
		"You need to be friends to send messages here.")
}

func TestEditAndPinMessage(t *testing.T) {
	e := newTestEnv(t)
	dmID, kpA, kpB := makeDM(t, e)

	msg, sig := signed(t, kpA, "original")
	e.mustCall("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":0,"delete":0}`, dmID, msg, sig))
	found, _ := e.hub.find(notify.DMRoom(dmID), "message_notification")
	msgID := found.data.(domain.Message).ID

	// Only the sender may edit.
	edited, editedSig := signed(t, kpB, "hijack")
	e.mustFail("cb", "set_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q}`, msgID, edited, editedSig), "You cannot edit that message.")

	// Any member may pin.
	e.mustCall("cb", "set_message", fmt.Sprintf(`{"id":%d,"pinned":true}`, msgID))
	pinned := e.mustCall("ca", "get_pinned", fmt.Sprintf(`{"id":%d}`, dmID)).([]domain.Message)
	require.Len(t, pinned, 1)
	assert.Equal(t, msgID, pinned[0].ID)

	edited, editedSig = signed(t, kpA, "fixed")
	e.mustCall("ca", "set_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q}`, msgID, edited, editedSig))
	got := e.mustCall("ca", "get_message", fmt.Sprintf(`{"id":%d}`, msgID)).(domain.Message)
	assert.Equal(t, edited, got.Message)
	assert.True(t, got.Pinned)
	assert.GreaterOrEqual(t, e.hub.count("message_change_notification"), 2)
}

func TestReactions(t *testing.T) {
	e := newTestEnv(t)
	dmID, kpA, kpB := makeDM(t, e)

	msg, sig := signed(t, kpA, "react to me")
	e.mustCall("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":0,"delete":0}`, dmID, msg, sig))
	found, _ := e.hub.find(notify.DMRoom(dmID), "message_notification")
	msgID := found.data.(domain.Message).ID

	reaction, rSig := signed(t, kpB, "thumbs up")
	res := e.mustCall("cb", "add_reaction", fmt.Sprintf(
		`{"id":%d,"reaction":%q,"signature":%q}`, msgID, reaction, rSig))
	reactionID := res.(int64)

	got := e.mustCall("ca", "get_message", fmt.Sprintf(`{"id":%d}`, msgID)).(domain.Message)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "bob", got.Reactions[0].Sender)

	// Only the reaction's sender may remove it.
	e.mustFail("ca", "remove_reaction", fmt.Sprintf(`{"id":%d}`, reactionID),
		"You do not have access to that reaction.")
	e.mustCall("cb", "remove_reaction", fmt.Sprintf(`{"id":%d}`, reactionID))
	got = e.mustCall("ca", "get_message", fmt.Sprintf(`{"id":%d}`, msgID)).(domain.Message)
	assert.Empty(t, got.Reactions)
}

func TestScheduledMessageLifecycle(t *testing.T) {
	e := newTestEnv(t)
	dmID, kpA, _ := makeDM(t, e)

	msg, sig := signed(t, kpA, "later")
	e.mustCall("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":1,"delete":0}`, dmID, msg, sig))

	detail := e.mustCall("ca", "get_dm", fmt.Sprintf(`{"id":%d}`, dmID)).(dmDetail)
	require.Len(t, detail.ScheduledMessages, 1)
	assert.Equal(t, msg, detail.ScheduledMessages[1].Message)

	assert.Eventually(t, func() bool {
		_, sent := e.hub.find(notify.UserRoom("alice"), "scheduled_message_sent_notification")
		_, delivered := e.hub.find(notify.DMRoom(dmID), "message_notification")
		return sent && delivered
	}, 5*time.Second, 20*time.Millisecond)

	detail = e.mustCall("ca", "get_dm", fmt.Sprintf(`{"id":%d}`, dmID)).(dmDetail)
	assert.Empty(t, detail.ScheduledMessages)
}

func TestCancelScheduledMessage(t *testing.T) {
	e := newTestEnv(t)
	dmID, kpA, _ := makeDM(t, e)

	msg, sig := signed(t, kpA, "never mind")
	e.mustCall("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":3600,"delete":0}`, dmID, msg, sig))
	e.mustCall("ca", "cancel_scheduled_message", fmt.Sprintf(`{"dm_id":%d,"schedule_id":1}`, dmID))
	e.mustFail("ca", "cancel_scheduled_message", fmt.Sprintf(`{"dm_id":%d,"schedule_id":1}`, dmID),
		"You did not schedule a message with that id.")

	history := e.mustCall("ca", "get_message_history", fmt.Sprintf(
		`{"id":%d,"cursor":%q,"limit":10}`, dmID, clock.NowDelta(time.Hour))).([]domain.Message)
	assert.Empty(t, history)
}

func TestSelfDestructMessage(t *testing.T) {
	e := newTestEnv(t)
	dmID, kpA, _ := makeDM(t, e)

	msg, sig := signed(t, kpA, "poof")
	e.mustCall("ca", "send_message", fmt.Sprintf(
		`{"id":%d,"message":%q,"signature":%q,"schedule":0,"delete":1}`, dmID, msg, sig))
	found, ok := e.hub.find(notify.DMRoom(dmID), "message_notification")
	require.True(t, ok)
	assert.NotNil(t, found.data.(domain.Message).DeleteTimestamp)

	assert.Eventually(t, func() bool {
		_, deleted := e.hub.find(notify.DMRoom(dmID), "message_delete_notification")
		return deleted
	}, 5*time.Second, 20*time.Millisecond)

	history := e.mustCall("ca", "get_message_history", fmt.Sprintf(
		`{"id":%d,"cursor":%q,"limit":10}`, dmID, clock.NowDelta(time.Hour))).([]domain.Message)
	assert.Empty(t, history)
}

func TestTypingPing(t *testing.T) {
	e := newTestEnv(t)
	dmID, _, _ := makeDM(t, e)

	e.mustCall("ca", "ping_typing", fmt.Sprintf(`{"id":%d}`, dmID))
	found, ok := e.hub.find(notify.DMRoom(dmID), "typing_notification")
	require.True(t, ok)
	assert.Equal(t, "ca", found.skip)
}

func TestCallFlow(t *testing.T) {
	e := newTestEnv(t)
	dmID, _, _ := makeDM(t, e)

	res := e.mustCall("ca", "join_call", fmt.Sprintf(`{"id":%d,"uuid":"peer-a"}`, dmID))
	assert.Equal(t, map[string]string{"alice": "peer-a"}, res)

	res = e.mustCall("cb", "join_call", fmt.Sprintf(`{"id":%d,"uuid":"peer-b"}`, dmID))
	assert.Equal(t, map[string]string{"alice": "peer-a", "bob": "peer-b"}, res)

	detail := e.mustCall("ca", "get_dm", fmt.Sprintf(`{"id":%d}`, dmID)).(dmDetail)
	assert.Len(t, detail.UsersInCall, 2)

	e.mustCall("ca", "leave_call", fmt.Sprintf(`{"id":%d}`, dmID))
	e.mustFail("ca", "leave_call", fmt.Sprintf(`{"id":%d}`, dmID), "You are not part of the call.")

	// Disconnect purges remaining membership and notifies the room.
	before := e.hub.count("dm_notification")
	e.srv.HandleDisconnect("cb")
	assert.Greater(t, e.hub.count("dm_notification"), before)
	detail = e.mustCall("ca", "get_dm", fmt.Sprintf(`{"id":%d}`, dmID)).(dmDetail)
	assert.Empty(t, detail.UsersInCall)
}

func TestLeaveDM(t *testing.T) {
	e := newTestEnv(t)
	dmID, _, _ := makeDM(t, e)

	e.mustCall("cb", "leave_dm", fmt.Sprintf(`{"id":%d}`, dmID))
	_, ok := e.hub.find(notify.DMRoom(dmID), "dm_notification")
	assert.True(t, ok)

	e.mustFail("cb", "get_dm", fmt.Sprintf(`{"id":%d}`, dmID), "You do not have access to that DM.")
	detail := e.mustCall("ca", "get_dm", fmt.Sprintf(`{"id":%d}`, dmID)).(dmDetail)
	assert.Equal(t, []string{"alice"}, detail.Users)
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	e := newTestEnv(t)
	e.user("ca", "alice")

	before := e.hub.count("profile_notification")
	e.srv.HandleDisconnect("ca")
	require.Greater(t, e.hub.count("profile_notification"), before)

	var last emitted
	e.hub.mu.Lock()
	for _, ev := range e.hub.log {
		if ev.event == "profile_notification" {
			last = ev
		}
	}
	e.hub.mu.Unlock()
	assert.Equal(t, "offline", last.data.(domain.Profile).Status)
}
