package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whisperd/internal/clock"
	"whisperd/internal/domain"
	"whisperd/internal/notify"
	"whisperd/internal/scheduler"
	"whisperd/internal/session"
	"whisperd/internal/transport"
)

// Server holds the full event surface: auth, users, DMs, messages,
// reactions, the social graph and calls. One instance serves all
// connections.
type Server struct {
	store    domain.Store
	router   *notify.Router
	sched    *scheduler.Scheduler
	sessions *session.Registry
	tasks    *clock.TaskSet
	log      zerolog.Logger

	// baseCtx outlives individual connections; scheduled and
	// self-destruct timers run under it.
	baseCtx context.Context
	now     func() time.Time

	callsMu sync.Mutex
	calls   map[int64]map[string]string

	endpoints map[string]endpoint
}

// request is one decoded event bound to its connection state.
type request struct {
	connID string
	sess   *session.Session
	user   string
	data   payload
}

// endpoint couples a handler with its guards. keys is the exact required
// key set; nil skips the check for handlers taking partial updates.
type endpoint struct {
	keys      []string
	public    bool
	authGuard bool
	handle    func(ctx context.Context, req *request) (any, error)
}

func New(ctx context.Context, store domain.Store, router *notify.Router, sched *scheduler.Scheduler, tasks *clock.TaskSet, log zerolog.Logger) *Server {
	s := &Server{
		store:    store,
		router:   router,
		sched:    sched,
		sessions: session.NewRegistry(),
		tasks:    tasks,
		log:      log,
		baseCtx:  ctx,
		now:      clock.NowTime,
		calls:    make(map[int64]map[string]string),
	}
	s.endpoints = map[string]endpoint{
		"login":                    {keys: []string{"username"}, public: true, authGuard: true, handle: s.login},
		"login_challenge_response": {keys: []string{"response"}, public: true, authGuard: true, handle: s.loginChallengeResponse},
		"register":                 {keys: []string{"username", "public_key", "spk", "sig", "own_storage"}, public: true, handle: s.register},

		"username_exists": {keys: []string{"username"}, public: true, handle: s.usernameExists},
		"get_user":        {keys: []string{"username"}, handle: s.getUser},
		"get_full_user":   {keys: []string{}, handle: s.getFullUser},
		"get_user_list":   {keys: []string{}, handle: s.getUserList},
		"set_user":        {handle: s.setUser},

		"create_dm": {keys: []string{"usernames", "messages", "key_tree"}, handle: s.createDM},
		"get_dms":   {keys: []string{}, handle: s.getDMs},
		"get_dm":    {keys: []string{"id"}, handle: s.getDM},
		"set_dm":    {keys: []string{"id", "name"}, handle: s.setDM},
		"leave_dm":  {keys: []string{"id"}, handle: s.leaveDM},

		"send_message":             {keys: []string{"id", "message", "signature", "schedule", "delete"}, handle: s.sendMessage},
		"get_message":              {keys: []string{"id"}, handle: s.getMessage},
		"get_message_history":      {keys: []string{"id", "cursor", "limit"}, handle: s.getMessageHistory},
		"get_pinned":               {keys: []string{"id"}, handle: s.getPinned},
		"set_message":              {handle: s.setMessage},
		"cancel_scheduled_message": {keys: []string{"dm_id", "schedule_id"}, handle: s.cancelScheduledMessage},

		"add_reaction":    {keys: []string{"id", "reaction", "signature"}, handle: s.addReaction},
		"remove_reaction": {keys: []string{"id"}, handle: s.removeReaction},

		"ping_typing": {keys: []string{"id"}, handle: s.pingTyping},

		"send_friend_request":   {keys: []string{"username"}, handle: s.sendFriendRequest},
		"get_friend_requests":   {keys: []string{}, handle: s.getFriendRequests},
		"get_outgoing_requests": {keys: []string{}, handle: s.getOutgoingRequests},
		"ack_friend_request":    {keys: []string{"username", "accept"}, handle: s.ackFriendRequest},
		"unfriend":              {keys: []string{"username"}, handle: s.unfriend},
		"get_friends":           {keys: []string{}, handle: s.getFriends},

		"block_user":   {keys: []string{"username"}, handle: s.blockUser},
		"unblock_user": {keys: []string{"username"}, handle: s.unblockUser},
		"get_blocked":  {keys: []string{}, handle: s.getBlocked},

		"join_call":  {keys: []string{"id", "uuid"}, handle: s.joinCall},
		"leave_call": {keys: []string{"id"}, handle: s.leaveCall},
	}
	return s
}

// HandleEvent runs one request through the guards and its handler and
// returns the ack envelope contents.
func (s *Server) HandleEvent(ctx context.Context, connID, event string, data json.RawMessage) (bool, any) {
	s.log.Debug().Str("conn_id", connID).Str("event", event).RawJSON("data", normalizeRaw(data)).Msg("handling event")

	ep, ok := s.endpoints[event]
	if !ok {
		return false, "Unknown event."
	}
	sess := s.sessions.Get(connID)
	result, err := s.dispatch(ctx, ep, connID, sess, data)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			s.log.Error().Err(err).Str("event", event).Str("conn_id", connID).Msg("handler failed")
		}
		return false, domain.UserMessage(err)
	}
	return true, result
}

func (s *Server) dispatch(ctx context.Context, ep endpoint, connID string, sess *session.Session, data json.RawMessage) (any, error) {
	if !ep.authGuard {
		return s.run(ctx, ep, connID, sess, data)
	}

	now := s.now()
	if sess.InLockout(now) {
		s.log.Debug().Str("conn_id", connID).Msg("connection in lockout")
		return nil, domain.Auth("You have been locked out for 60 seconds.")
	}

	result, err := s.run(ctx, ep, connID, sess, data)
	if err == nil {
		return result, nil
	}
	if kind := domain.KindOf(err); kind == domain.KindInternal || kind == domain.KindMalformed {
		return nil, err
	}

	fails := sess.AddFail()
	msg := domain.UserMessage(err)
	if fails >= session.MaxFails {
		sess.StartLockout(now)
		return nil, domain.Auth(msg + " You have been locked out for 60 seconds.")
	}
	return nil, domain.Auth(fmt.Sprintf("%s %d attempts left before lockout.", msg, session.MaxFails-fails))
}

func (s *Server) run(ctx context.Context, ep endpoint, connID string, sess *session.Session, data json.RawMessage) (any, error) {
	user, loggedIn := sess.User()
	if !ep.public && !loggedIn {
		return nil, domain.Auth("Not logged in.")
	}
	p, ok := parsePayload(data)
	if !ok {
		return nil, domain.ErrInvalidFormat
	}
	if ep.keys != nil && !p.exact(ep.keys...) {
		return nil, domain.ErrInvalidFormat
	}
	return ep.handle(ctx, &request{connID: connID, sess: sess, user: user, data: p})
}

// HandleDisconnect tears down a closed connection: presence, rooms, the
// offline profile broadcast when the last connection drops, and call
// membership.
func (s *Server) HandleDisconnect(connID string) {
	sess := s.sessions.Get(connID)
	username, loggedIn := sess.User()
	s.sessions.Remove(connID)
	if !loggedIn {
		return
	}

	stillOnline := s.router.RemoveConn(connID, username)
	if !stillOnline {
		// The stored status survives for the next login; only the
		// broadcast says offline.
		if u, err := s.store.GetUser(username); err != nil {
			s.log.Error().Err(err).Str("username", username).Msg("load user on disconnect")
		} else if u.Status != "offline" {
			profile := u.Profile()
			profile.Status = "offline"
			s.router.NotifyProfile(connID, profile)
		}
	}

	for _, dmID := range s.purgeCalls(username) {
		if dm, err := s.dmWithCallList(dmID); err == nil {
			s.router.NotifyDM(dmID, dm)
		}
	}
	s.log.Debug().Str("conn_id", connID).Str("username", username).Msg("disconnected")
}

func normalizeRaw(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	return data
}

var _ transport.EventHandler = (*Server)(nil)
