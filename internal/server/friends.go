package server

import (
	"context"

	"whisperd/internal/domain"
)

// sendFriendRequest opens a directional request edge. A block held by the
// target hides them completely; a block held by the sender is quietly
// lifted.
func (s *Server) sendFriendRequest(_ context.Context, req *request) (any, error) {
	sender := req.user
	username, err := req.data.str("username")
	if err != nil {
		return nil, err
	}

	if sender == username {
		return nil, domain.Validation("You cannot friend yourself.")
	}
	exists, err := s.store.UserExists(username)
	if err != nil {
		return nil, err
	}
	blockedByTarget, err := s.store.IsRelation(username, sender, domain.StatusBlock)
	if err != nil {
		return nil, err
	}
	if !exists || blockedByTarget {
		return nil, domain.Validation("Could not friend that person.")
	}

	friends, err := s.store.OfStatus(sender, domain.StatusFriend)
	if err != nil {
		return nil, err
	}
	if contains(friends, username) {
		return nil, domain.Conflict("You are already friends.")
	}

	outgoing, err := s.store.IsRelation(sender, username, domain.StatusRequest)
	if err != nil {
		return nil, err
	}
	if outgoing {
		return nil, domain.Conflict("You have already sent a request.")
	}
	incoming, err := s.store.IsRelation(username, sender, domain.StatusRequest)
	if err != nil {
		return nil, err
	}
	if incoming {
		return nil, domain.Conflict("That user has already sent a request to you.")
	}

	blocked, err := s.store.IsRelation(sender, username, domain.StatusBlock)
	if err != nil {
		return nil, err
	}
	if blocked {
		if err := s.store.DeleteRelation(sender, username); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreateRelation(sender, username, domain.StatusRequest); err != nil {
		return nil, err
	}

	s.router.NotifyFriendRequest(sender, username)
	return true, nil
}

func (s *Server) getFriendRequests(_ context.Context, req *request) (any, error) {
	return s.store.IncomingOfStatus(req.user, domain.StatusRequest)
}

func (s *Server) getOutgoingRequests(_ context.Context, req *request) (any, error) {
	return s.store.OutgoingOfStatus(req.user, domain.StatusRequest)
}

// ackFriendRequest accepts or declines a pending request from the named
// user. Accepting upgrades the request edge in place and lifts any block
// the accepter held.
func (s *Server) ackFriendRequest(_ context.Context, req *request) (any, error) {
	username := req.user
	sender, err := req.data.str("username")
	if err != nil {
		return nil, err
	}
	accept, err := req.data.boolean("accept")
	if err != nil {
		return nil, err
	}

	exists, err := s.store.UserExists(sender)
	if err != nil {
		return nil, err
	}
	requested := false
	if exists {
		requested, err = s.store.IsRelation(sender, username, domain.StatusRequest)
		if err != nil {
			return nil, err
		}
	}
	if !requested {
		return nil, domain.Validation("That user did not send you a request.")
	}

	friends, err := s.store.OfStatus(sender, domain.StatusFriend)
	if err != nil {
		return nil, err
	}
	if contains(friends, username) {
		return nil, domain.Conflict("You are already friends.")
	}

	if accept {
		if err := s.store.SetRelationStatus(sender, username, domain.StatusFriend); err != nil {
			return nil, err
		}
		blocked, err := s.store.IsRelation(username, sender, domain.StatusBlock)
		if err != nil {
			return nil, err
		}
		if blocked {
			if err := s.store.DeleteRelation(username, sender); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.store.DeleteRelation(sender, username); err != nil {
			return nil, err
		}
	}

	s.router.NotifyFriendAccept(sender, username, accept)
	return true, nil
}

func (s *Server) unfriend(_ context.Context, req *request) (any, error) {
	username := req.user
	other, err := req.data.str("username")
	if err != nil {
		return nil, err
	}

	exists, err := s.store.UserExists(other)
	if err != nil {
		return nil, err
	}
	friends, err := s.store.OfStatus(username, domain.StatusFriend)
	if err != nil {
		return nil, err
	}
	if !exists || !contains(friends, other) {
		return nil, domain.Validation("You are not friends with that user.")
	}

	if err := s.removeFriendEdge(username, other); err != nil {
		return nil, err
	}
	s.router.NotifyUnfriend(username, other)
	return true, nil
}

func (s *Server) getFriends(_ context.Context, req *request) (any, error) {
	return s.store.OfStatus(req.user, domain.StatusFriend)
}

// blockUser records a block edge, tearing down any friendship or pending
// request from the blocker first. The target is not notified.
func (s *Server) blockUser(_ context.Context, req *request) (any, error) {
	sender := req.user
	username, err := req.data.str("username")
	if err != nil {
		return nil, err
	}

	exists, err := s.store.UserExists(username)
	if err != nil {
		return nil, err
	}
	alreadyBlocked, err := s.store.IsRelation(sender, username, domain.StatusBlock)
	if err != nil {
		return nil, err
	}
	if !exists || alreadyBlocked {
		return nil, domain.Validation("You cannot block that user.")
	}

	friends, err := s.store.OfStatus(sender, domain.StatusFriend)
	if err != nil {
		return nil, err
	}
	if contains(friends, username) {
		if err := s.removeFriendEdge(sender, username); err != nil {
			return nil, err
		}
	}

	requested, err := s.store.IsRelation(sender, username, domain.StatusRequest)
	if err != nil {
		return nil, err
	}
	if requested {
		if err := s.store.DeleteRelation(sender, username); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateRelation(sender, username, domain.StatusBlock); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) unblockUser(_ context.Context, req *request) (any, error) {
	sender := req.user
	username, err := req.data.str("username")
	if err != nil {
		return nil, err
	}

	exists, err := s.store.UserExists(username)
	if err != nil {
		return nil, err
	}
	blocked, err := s.store.IsRelation(sender, username, domain.StatusBlock)
	if err != nil {
		return nil, err
	}
	if !exists || !blocked {
		return nil, domain.Validation("You cannot unblock that user.")
	}

	if err := s.store.DeleteRelation(sender, username); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) getBlocked(_ context.Context, req *request) (any, error) {
	return s.store.OutgoingOfStatus(req.user, domain.StatusBlock)
}

// removeFriendEdge deletes the single stored friend edge between the two,
// whichever direction it was stored in.
func (s *Server) removeFriendEdge(u1, u2 string) error {
	stored, err := s.store.IsRelation(u1, u2, domain.StatusFriend)
	if err != nil {
		return err
	}
	if stored {
		return s.store.DeleteRelation(u1, u2)
	}
	return s.store.DeleteRelation(u2, u1)
}
