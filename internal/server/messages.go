package server

import (
	"context"
	"time"

	"whisperd/internal/clock"
	"whisperd/internal/crypto"
	"whisperd/internal/domain"
	"whisperd/internal/scheduler"
)

// requireMessageAccess rejects unless the message exists and sits in one
// of the caller's DMs.
func (s *Server) requireMessageAccess(username string, messageID int64, msg string) error {
	exists, err := s.store.MessageExists(messageID)
	if err != nil {
		return err
	}
	if exists {
		in, err := s.store.MessageInUserDM(messageID, username)
		if err != nil {
			return err
		}
		if in {
			return nil
		}
	}
	return domain.Authorization(msg)
}

// requireFriendsInPair enforces the friendship rule for two-member DMs:
// messaging in an individual DM stops working the moment the pair is not
// friends.
func (s *Server) requireFriendsInPair(users []string) error {
	if len(users) != 2 {
		return nil
	}
	friends, err := s.store.OfStatus(users[0], domain.StatusFriend)
	if err != nil {
		return err
	}
	if !contains(friends, users[1]) {
		return domain.Validation("You need to be friends to send messages here.")
	}
	return nil
}

// sendMessage stores a signed ciphertext, or registers a timer when a
// schedule delay is given. delete > 0 self-destructs the message that
// many seconds after it lands. Scheduled sends survive the sender
// disconnecting; only cancel_scheduled_message stops them.
func (s *Server) sendMessage(_ context.Context, req *request) (any, error) {
	username := req.user
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(username, dmID); err != nil {
		return nil, err
	}
	info, err := s.store.GetDM(dmID)
	if err != nil {
		return nil, err
	}
	if err := s.requireFriendsInPair(info.Users); err != nil {
		return nil, err
	}

	msg, err := req.data.str("message")
	if err != nil {
		return nil, err
	}
	sig, err := req.data.str("signature")
	if err != nil {
		return nil, err
	}
	sender, err := s.store.GetUser(username)
	if err != nil {
		return nil, err
	}
	if err := crypto.Verify(sender.PublicKey, msg, sig); err != nil {
		return nil, domain.ErrMalformed
	}

	scheduleSec, err := req.data.integer("schedule")
	if err != nil {
		return nil, err
	}
	deleteSec, err := req.data.integer("delete")
	if err != nil {
		return nil, err
	}
	scheduleDur := time.Duration(scheduleSec) * time.Second
	deleteDur := time.Duration(deleteSec) * time.Second

	if scheduleSec > 0 {
		view := domain.ScheduledMessage{
			Message:   msg,
			Signature: sig,
			Timestamp: clock.NowDelta(scheduleDur),
		}
		id := s.sched.Schedule(s.baseCtx, dmID, username, view, scheduleDur, deleteDur, scheduler.Callbacks{
			Soon: func(schedID int) {
				s.router.NotifySchedSoon(username, dmID, schedID)
			},
			Send: func(schedID int) (int64, bool) {
				m, err := s.store.CreateMessage(dmID, username, msg, sig, deleteDur)
				if err != nil {
					s.log.Error().Err(err).Int64("dm_id", dmID).Msg("store scheduled message")
					return 0, false
				}
				s.router.NotifySchedSent(username, dmID, schedID)
				s.router.NotifyMessage(dmID, m)
				return m.ID, true
			},
			Delete: func(messageID int64) {
				s.destructMessage(dmID, messageID)
			},
		})
		s.log.Debug().Int64("dm_id", dmID).Str("username", username).Int("schedule_id", id).Msg("message scheduled")
		return true, nil
	}

	m, err := s.store.CreateMessage(dmID, username, msg, sig, deleteDur)
	if err != nil {
		return nil, err
	}
	s.router.NotifyMessage(dmID, m)

	if deleteSec > 0 {
		s.tasks.Go(s.baseCtx, func(ctx context.Context) {
			if !clock.Sleep(ctx, deleteDur) {
				return
			}
			s.destructMessage(dmID, m.ID)
		})
	}
	return true, nil
}

// destructMessage permanently removes a self-destructing message and
// tells the DM.
func (s *Server) destructMessage(dmID, messageID int64) {
	if err := s.store.DeleteMessage(messageID); err != nil {
		s.log.Error().Err(err).Int64("message_id", messageID).Msg("self-destruct delete")
		return
	}
	s.router.NotifyMessageDelete(dmID, messageID)
}

func (s *Server) getMessage(_ context.Context, req *request) (any, error) {
	messageID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireMessageAccess(req.user, messageID, "You do not have access to that Message."); err != nil {
		return nil, err
	}
	return s.store.GetMessage(messageID)
}

func (s *Server) getMessageHistory(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	cursorRaw, err := req.data.str("cursor")
	if err != nil {
		return nil, err
	}
	cursor, err := clock.Parse(cursorRaw)
	if err != nil {
		return nil, domain.ErrMalformed
	}
	limit, err := req.data.integer("limit")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(req.user, dmID); err != nil {
		return nil, err
	}
	return s.store.Messages(dmID, cursor, int(limit))
}

func (s *Server) getPinned(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(req.user, dmID); err != nil {
		return nil, err
	}
	return s.store.PinnedMessages(dmID)
}

// setMessage edits the ciphertext, toggles the pin, or both. Edits are
// sender-only and need a valid signature over the new payload; any member
// may pin.
func (s *Server) setMessage(_ context.Context, req *request) (any, error) {
	messageID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireMessageAccess(req.user, messageID, "You do not have access to that message."); err != nil {
		return nil, err
	}

	var patch domain.MessagePatch
	if req.data.has("message") {
		current, err := s.store.GetMessage(messageID)
		if err != nil {
			return nil, err
		}
		if current.Sender != req.user {
			return nil, domain.Authorization("You cannot edit that message.")
		}
		msg, err := req.data.str("message")
		if err != nil {
			return nil, err
		}
		sig, err := req.data.str("signature")
		if err != nil {
			return nil, err
		}
		sender, err := s.store.GetUser(req.user)
		if err != nil {
			return nil, err
		}
		if err := crypto.Verify(sender.PublicKey, msg, sig); err != nil {
			return nil, domain.ErrMalformed
		}
		patch.Message = &msg
		patch.Signature = &sig
	}
	if req.data.has("pinned") {
		pinned, err := req.data.boolean("pinned")
		if err != nil {
			return nil, err
		}
		patch.Pinned = &pinned
	}

	if !patch.Empty() {
		if err := s.store.UpdateMessage(messageID, patch); err != nil {
			return nil, err
		}
	}

	m, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	s.router.NotifyMessageChange(m.DMID, m)
	return true, nil
}

func (s *Server) cancelScheduledMessage(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("dm_id")
	if err != nil {
		return nil, err
	}
	scheduleID, err := req.data.integer("schedule_id")
	if err != nil {
		return nil, err
	}
	if !s.sched.Cancel(dmID, req.user, int(scheduleID)) {
		return nil, domain.Validation("You did not schedule a message with that id.")
	}
	return true, nil
}
