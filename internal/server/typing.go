package server

import (
	"context"
)

// pingTyping fans a typing ping out to the DM room, skipping the sender's
// own connection. Individual DMs require the pair to still be friends.
// Nothing is persisted.
func (s *Server) pingTyping(_ context.Context, req *request) (any, error) {
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
	if err := s.requireFriendsInPair(info.Users); err != nil {
		return nil, err
	}
	s.router.NotifyTyping(req.connID, req.user, dmID)
	return true, nil
}
