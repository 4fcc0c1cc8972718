package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whisperd/internal/clock"
	"whisperd/internal/domain"
)

// x3dhReplayDelay gives a freshly logged-in client time to finish its
// post-login initialization before queued bundles arrive.
const x3dhReplayDelay = 5 * time.Second

// UserRoom is the room holding all of a user's live connections.
func UserRoom(username string) string { return "ROOM_USER_" + username }

// DMRoom is the room holding all currently-online members of a DM.
func DMRoom(dmID int64) string { return fmt.Sprintf("ROOM_DM_%d_NOTIFICATION", dmID) }

// Router owns the presence map and pushes server-to-client notifications
// into the right rooms. Fan-out is best effort: a slow or gone connection
// never fails the handler that triggered the notification.
type Router struct {
	hub   domain.Broadcaster
	store domain.Store
	tasks *clock.TaskSet
	log   zerolog.Logger

	delay time.Duration

	mu       sync.Mutex
	presence map[string]map[string]struct{}
}

func NewRouter(hub domain.Broadcaster, store domain.Store, tasks *clock.TaskSet, log zerolog.Logger) *Router {
	return &Router{
		hub:      hub,
		store:    store,
		tasks:    tasks,
		log:      log,
		delay:    x3dhReplayDelay,
		presence: make(map[string]map[string]struct{}),
	}
}

// LoginJoin subscribes a freshly authenticated connection to its user room
// and every DM room of its user, then replays queued X3DH bundles to the
// user room after a short delay.
func (r *Router) LoginJoin(ctx context.Context, connID, username string) error {
	r.mu.Lock()
	set, ok := r.presence[username]
	if !ok {
		set = make(map[string]struct{})
		r.presence[username] = set
	}
	set[connID] = struct{}{}
	r.mu.Unlock()

	dms, err := r.store.UserDMs(username)
	if err != nil {
		return err
	}
	for _, dmID := range dms {
		r.hub.Join(DMRoom(dmID), connID)
	}
	r.hub.Join(UserRoom(username), connID)

	bundles, err := r.store.TakeX3DH(username)
	if err != nil {
		return err
	}
	for _, bundle := range bundles {
		bundle := bundle
		r.tasks.Go(ctx, func(ctx context.Context) {
			if !clock.Sleep(ctx, r.delay) {
				return
			}
			r.log.Debug().Str("username", username).Msg("replaying queued x3dh bundle")
			r.NotifyX3DH(username, bundle)
		})
	}
	return nil
}

// JoinNewDM subscribes every online member of a newly created DM to its
// room.
func (r *Router) JoinNewDM(dmID int64) error {
	info, err := r.store.GetDM(dmID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, username := range info.Users {
		for connID := range r.presence[username] {
			r.hub.Join(DMRoom(dmID), connID)
		}
	}
	return nil
}

// RemoveConn drops the connection from the presence map and every room.
// Reports whether the user still has another live connection.
func (r *Router) RemoveConn(connID, username string) (stillOnline bool) {
	r.mu.Lock()
	if set, ok := r.presence[username]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.presence, username)
		} else {
			stillOnline = true
		}
	}
	r.mu.Unlock()
	r.hub.LeaveAll(connID)
	return stillOnline
}

// UserLeaveDM unsubscribes all of the user's connections from the DM room.
func (r *Router) UserLeaveDM(username string, dmID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.presence[username] {
		r.hub.Leave(DMRoom(dmID), connID)
	}
}

// IsUserOnline reports whether the user has at least one live connection.
func (r *Router) IsUserOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.presence[username]) > 0
}

// NotifyProfile broadcasts a profile update to everyone except the
// originating connection.
func (r *Router) NotifyProfile(skipConnID string, profile any) {
	r.hub.Broadcast("profile_notification", profile, skipConnID)
}

// NotifyDM tells all online members of a DM that it changed.
func (r *Router) NotifyDM(dmID int64, dm any) {
	r.hub.ToRoom(DMRoom(dmID), "dm_notification", dm)
}

// NotifyTyping pings a DM room that username is typing, excluding the
// sender's own connection.
func (r *Router) NotifyTyping(skipConnID, username string, dmID int64) {
	payload := map[string]any{"id": dmID, "username": username}
	r.hub.ToRoomSkip(DMRoom(dmID), "typing_notification", payload, skipConnID)
}

// NotifyMessage pushes a new message to the DM room.
func (r *Router) NotifyMessage(dmID int64, message domain.Message) {
	r.hub.ToRoom(DMRoom(dmID), "message_notification", message)
}

// NotifyMessageChange pushes an edited or re-pinned message to the DM room.
func (r *Router) NotifyMessageChange(dmID int64, message domain.Message) {
	r.hub.ToRoom(DMRoom(dmID), "message_change_notification", message)
}

// NotifyMessageDelete pushes a message deletion to the DM room.
func (r *Router) NotifyMessageDelete(dmID int64, payload any) {
	r.hub.ToRoom(DMRoom(dmID), "message_delete_notification", payload)
}

// NotifySchedSent tells the sender their scheduled message went out.
func (r *Router) NotifySchedSent(username string, dmID int64, scheduleID int) {
	payload := map[string]any{"dm_id": dmID, "schedule_id": scheduleID}
	r.hub.ToRoom(UserRoom(username), "scheduled_message_sent_notification", payload)
}

// NotifySchedSoon tells the sender their scheduled message fires shortly.
func (r *Router) NotifySchedSoon(username string, dmID int64, scheduleID int) {
	payload := map[string]any{"dm_id": dmID, "schedule_id": scheduleID}
	r.hub.ToRoom(UserRoom(username), "scheduled_soon_notification", payload)
}

// NotifyX3DH delivers an X3DH bundle to the target's user room.
func (r *Router) NotifyX3DH(username string, payload any) {
	r.hub.ToRoom(UserRoom(username), "x3dh_notification", payload)
}

// NotifyFriendRequest tells username that sender requested friendship.
func (r *Router) NotifyFriendRequest(sender, username string) {
	r.hub.ToRoom(UserRoom(username), "friend_request_notification", map[string]any{"username": sender})
}

// NotifyFriendAccept tells the original requester whether username
// accepted.
func (r *Router) NotifyFriendAccept(sender, username string, accept bool) {
	payload := map[string]any{"username": username, "accept": accept}
	r.hub.ToRoom(UserRoom(sender), "friend_request_accept_notification", payload)
}

// NotifyUnfriend tells both parties the friendship ended.
func (r *Router) NotifyUnfriend(u1, u2 string) {
	r.hub.ToRoom(UserRoom(u2), "unfriend_notification", map[string]any{"username": u1})
	r.hub.ToRoom(UserRoom(u1), "unfriend_notification", map[string]any{"username": u2})
}
