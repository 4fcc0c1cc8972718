package server

import (
	"context"
	"unicode/utf8"

	"whisperd/internal/crypto"
	"whisperd/internal/domain"
)

const maxBiographyLen = 500

// getUser returns another user's public profile. Status reads "offline"
// whenever the user has no live connection, whatever they last set.
func (s *Server) getUser(_ context.Context, req *request) (any, error) {
	username, err := req.data.str("username")
	if err != nil {
		return nil, err
	}
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
	profile := u.Profile()
	if !s.router.IsUserOnline(username) {
		profile.Status = "offline"
	}
	return profile, nil
}

// getFullUser returns the caller's own profile including the storage blob.
func (s *Server) getFullUser(_ context.Context, req *request) (any, error) {
	u, err := s.store.GetUser(req.user)
	if err != nil {
		return nil, err
	}
	return u.FullProfile(), nil
}

func (s *Server) getUserList(_ context.Context, req *request) (any, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ListedProfile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Listed())
	}
	return out, nil
}

// setUser applies a partial profile update. Unknown fields are ignored;
// at least one known field must be present. A new spk must arrive with a
// fresh sig binding it to the identity key.
func (s *Server) setUser(_ context.Context, req *request) (any, error) {
	var patch domain.UserPatch

	if req.data.has("spk") {
		spk, err := req.data.str("spk")
		if err != nil {
			return nil, err
		}
		sig, err := req.data.str("sig")
		if err != nil {
			return nil, err
		}
		u, err := s.store.GetUser(req.user)
		if err != nil {
			return nil, err
		}
		if err := crypto.Verify(u.PublicKey, spk, sig); err != nil {
			return nil, domain.ErrMalformed
		}
		if _, err := crypto.Decompress(spk); err != nil {
			return nil, domain.ErrMalformed
		}
		patch.SPK = &spk
		patch.Sig = &sig
	}

	if req.data.has("status") {
		status, err := req.data.str("status")
		if err != nil {
			return nil, err
		}
		patch.Status = &status
	}
	if req.data.has("biography") {
		bio, err := req.data.str("biography")
		if err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(bio) > maxBiographyLen {
			return nil, domain.ErrInvalidFormat
		}
		patch.Biography = &bio
	}
	if req.data.has("profile_picture") {
		pic, err := req.data.str("profile_picture")
		if err != nil {
			return nil, err
		}
		patch.ProfilePicture = &pic
	}
	if req.data.has("own_storage") {
		blob, err := req.data.str("own_storage")
		if err != nil {
			return nil, err
		}
		patch.OwnStorage = &blob
	}

	if patch.Empty() {
		return nil, domain.ErrInvalidFormat
	}
	if err := s.store.UpdateUser(req.user, patch); err != nil {
		return nil, err
	}

	u, err := s.store.GetUser(req.user)
	if err != nil {
		return nil, err
	}
	s.router.NotifyProfile(req.connID, u.Profile())
	return true, nil
}
