package server

import (
	"context"

	"whisperd/internal/domain"
)

// dmCallView is the dm_notification payload for call changes: the full DM
// plus who is in the call.
type dmCallView struct {
	domain.DMInfo
	UsersInCall map[string]string `json:"users_in_call"`
}

// dmCallPurge is the disconnect-purge variant; only the member names are
// listed.
type dmCallPurge struct {
	domain.DMInfo
	UsersInCall []string `json:"users_in_call"`
}

// joinCall registers the caller's peer id for the DM's call and returns
// the current participant map.
func (s *Server) joinCall(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	peerID, err := req.data.str("uuid")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(req.user, dmID); err != nil {
		return nil, err
	}

	s.callsMu.Lock()
	if s.calls[dmID] == nil {
		s.calls[dmID] = make(map[string]string)
	}
	s.calls[dmID][req.user] = peerID
	s.callsMu.Unlock()

	dm, err := s.callView(dmID)
	if err != nil {
		return nil, err
	}
	s.router.NotifyDM(dmID, dm)
	return s.callSnapshot(dmID), nil
}

func (s *Server) leaveCall(_ context.Context, req *request) (any, error) {
	dmID, err := req.data.integer("id")
	if err != nil {
		return nil, err
	}
	if err := s.requireDMAccess(req.user, dmID); err != nil {
		return nil, err
	}

	s.callsMu.Lock()
	_, in := s.calls[dmID][req.user]
	if in {
		delete(s.calls[dmID], req.user)
	}
	s.callsMu.Unlock()
	if !in {
		return nil, domain.Validation("You are not part of the call.")
	}

	dm, err := s.callView(dmID)
	if err != nil {
		return nil, err
	}
	s.router.NotifyDM(dmID, dm)
	return true, nil
}

// callSnapshot copies the DM's participant map; never nil.
func (s *Server) callSnapshot(dmID int64) map[string]string {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	out := make(map[string]string, len(s.calls[dmID]))
	for user, peer := range s.calls[dmID] {
		out[user] = peer
	}
	return out
}

// purgeCalls removes the user from every call and returns the affected
// DM ids.
func (s *Server) purgeCalls(username string) []int64 {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	var affected []int64
	for dmID, call := range s.calls {
		if _, ok := call[username]; ok {
			delete(call, username)
			affected = append(affected, dmID)
		}
	}
	return affected
}

func (s *Server) callView(dmID int64) (dmCallView, error) {
	info, err := s.store.GetDM(dmID)
	if err != nil {
		return dmCallView{}, err
	}
	return dmCallView{DMInfo: info, UsersInCall: s.callSnapshot(dmID)}, nil
}

// dmWithCallList is the disconnect-purge view of a DM.
func (s *Server) dmWithCallList(dmID int64) (dmCallPurge, error) {
	info, err := s.store.GetDM(dmID)
	if err != nil {
		return dmCallPurge{}, err
	}
	s.callsMu.Lock()
	names := make([]string, 0, len(s.calls[dmID]))
	for user := range s.calls[dmID] {
		names = append(names, user)
	}
	s.callsMu.Unlock()
	return dmCallPurge{DMInfo: info, UsersInCall: names}, nil
}
