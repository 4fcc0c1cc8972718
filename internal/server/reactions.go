package server

import (
	"context"

	"whisperd/internal/crypto"
	"whisperd/internal/domain"
)

// addReaction attaches a signed ciphertext reaction and returns its id.
// The whole message is re-pushed so clients keep one rendering path.
func (s *Server) addReaction(_ context.Context, req *request) (any, error) {
	messageID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireMessageAccess(req.user, messageID, "You do not have access to that message."); err != nil {
		return nil, err
	}

	reaction, err := req.data.str("reaction")
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
	if err := crypto.Verify(sender.PublicKey, reaction, sig); err != nil {
		return nil, domain.ErrMalformed
	}

	reactionID, err := s.store.CreateReaction(messageID, req.user, reaction, sig)
	if err != nil {
		return nil, err
	}

	m, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	s.router.NotifyMessageChange(m.DMID, m)
	return reactionID, nil
}

// removeReaction deletes one of the caller's own reactions.
func (s *Server) removeReaction(_ context.Context, req *request) (any, error) {
	reactionID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	exists, err := s.store.ReactionExists(reactionID)
	if err != nil {
		return nil, err
	}
	if exists {
		r, err := s.store.GetReaction(reactionID)
		if err != nil {
			return nil, err
		}
		if r.Sender != req.user {
			exists = false
		}
	}
	if !exists {
		return nil, domain.Authorization("You do not have access to that reaction.")
	}

	messageID, err := s.store.DeleteReaction(reactionID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	s.router.NotifyMessageChange(m.DMID, m)
	return true, nil
}
