package server

import (
	"context"
	"encoding/json"

	"whisperd/internal/crypto"
	"whisperd/internal/domain"
)

// dmDetail is the get_dm response: the DM with call membership and the
// caller's pending scheduled messages.
type dmDetail struct {
	domain.DMInfo
	UsersInCall       map[string]string               `json:"users_in_call"`
	ScheduledMessages map[int]domain.ScheduledMessage `json:"scheduled_messages"`
}

// dmSummary is the dm_notification payload for renames and departures; it
// deliberately omits the latest message.
type dmSummary struct {
	domain.DM
	Users       []string          `json:"users"`
	UsersInCall map[string]string `json:"users_in_call"`
}

// x3dhIntro is one target's opening handshake message in create_dm.
type x3dhIntro struct {
	SPK string `json:"spk"`
	EK  string `json:"ek"`
}

// requireDMAccess rejects unless the DM exists and the caller is a member.
func (s *Server) requireDMAccess(username string, dmID int64) error {
	exists, err := s.store.DMExists(dmID)
	if err != nil {
		return err
	}
	if exists {
		in, err := s.store.UserInDM(username, dmID)
		if err != nil {
			return err
		}
		if in {
			return nil
		}
	}
	return domain.Authorization("You do not have access to that DM.")
}

// createDM opens a conversation with the listed users. Every target gets
// an X3DH bundle carrying the creator's identity key, the target's
// handshake message and its position in the key tree; offline targets
// have it queued. Individual DMs must be unique and between friends.
func (s *Server) createDM(_ context.Context, req *request) (any, error) {
	sender := req.user
	usernames, err := req.data.strList("usernames")
	if err != nil {
		return nil, err
	}
	keyTree, err := req.data.strList("key_tree")
	if err != nil {
		return nil, err
	}
	var intros []x3dhIntro
	if err := json.Unmarshal(req.data["messages"], &intros); err != nil {
		return nil, domain.ErrMalformed
	}
	if len(intros) != len(usernames) {
		return nil, domain.ErrInvalidFormat
	}

	for i, username := range usernames {
		exists, err := s.store.UserExists(username)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.Validation("User does not exist.")
		}
		u, err := s.store.GetUser(username)
		if err != nil {
			return nil, err
		}
		if intros[i].SPK != u.SPK {
			return nil, domain.Validation("SPK does not match.")
		}
		if _, err := crypto.Decompress(intros[i].EK); err != nil {
			return nil, domain.ErrMalformed
		}
	}

	if len(usernames) == 1 {
		dup, err := s.store.DMUsersExist([]string{sender, usernames[0]})
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, domain.Conflict("DM with that user already exists.")
		}
		friends, err := s.store.OfStatus(usernames[0], domain.StatusFriend)
		if err != nil {
			return nil, err
		}
		if !contains(friends, sender) {
			return nil, domain.Validation("You need to be friends to make that DM.")
		}
	}

	for _, k := range keyTree {
		if _, err := crypto.Decompress(k); err != nil {
			return nil, domain.ErrMalformed
		}
	}

	dmID, err := s.store.CreateDM(append([]string{sender}, usernames...), keyTree)
	if err != nil {
		return nil, err
	}

	creator, err := s.store.GetUser(sender)
	if err != nil {
		return nil, err
	}
	for i, username := range usernames {
		bundle := domain.X3DHBundle{
			Sender:   sender,
			IK:       creator.PublicKey,
			SPK:      intros[i].SPK,
			EK:       intros[i].EK,
			KeyTree:  keyTree,
			Position: i + 1,
			ID:       dmID,
		}
		if s.router.IsUserOnline(username) {
			s.router.NotifyX3DH(username, bundle)
		} else {
			raw, err := json.Marshal(bundle)
			if err != nil {
				return nil, err
			}
			if err := s.store.AppendX3DH(username, raw); err != nil {
				return nil, err
			}
		}
	}

	if err := s.router.JoinNewDM(dmID); err != nil {
		return nil, err
	}
	s.log.Info().Int64("dm_id", dmID).Str("creator", sender).Int("members", len(usernames)+1).Msg("dm created")
	return dmID, nil
}

func (s *Server) getDMs(_ context.Context, req *request) (any, error) {
	dms, err := s.store.UserDMs(req.user)
	if err != nil {
		return nil, err
	}
	if dms == nil {
		dms = []int64{}
	}
	return dms, nil
}

func (s *Server) getDM(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(req.user, dmID); err != nil {
		return nil, err
	}
	info, err := s.store.GetDM(dmID)
	if err != nil {
		return nil, err
	}
	return dmDetail{
		DMInfo:            info,
		UsersInCall:       s.callSnapshot(dmID),
		ScheduledMessages: s.sched.Entries(dmID, req.user),
	}, nil
}

func (s *Server) setDM(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	name, err := req.data.str("name")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(req.user, dmID); err != nil {
		return nil, err
	}
	if err := s.store.SetDMName(dmID, name); err != nil {
		return nil, err
	}
	s.notifyDMSummary(dmID)
	return true, nil
}

func (s *Server) leaveDM(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(req.user, dmID); err != nil {
		return nil, err
	}
	if err := s.store.LeaveDM(dmID, req.user); err != nil {
		return nil, err
	}
	s.router.UserLeaveDM(req.user, dmID)
	s.notifyDMSummary(dmID)
	return true, nil
}

// notifyDMSummary pushes the latest-message-free DM view to its room.
func (s *Server) notifyDMSummary(dmID int64) {
	info, err := s.store.GetDM(dmID)
	if err != nil {
		s.log.Error().Err(err).Int64("dm_id", dmID).Msg("load dm for notification")
		return
	}
	s.router.NotifyDM(dmID, dmSummary{
		DM:          info.DM,
		Users:       info.Users,
		UsersInCall: s.callSnapshot(dmID),
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
