package server

import (
	"context"

	"whisperd/internal/crypto"
	"whisperd/internal/domain"
)

// login issues an Ed25519 challenge for the named account. The session
// remembers the expected response; nothing is authenticated yet.
func (s *Server) login(_ context.Context, req *request) (any, error) {
	username, err := req.data.str("username")
	if err != nil {
		return nil, err
	}
	exists, err := s.store.UserExists(username)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.Auth("User does not exist.")
	}
	if _, loggedIn := req.sess.User(); loggedIn {
		return nil, domain.Auth("Already logged in.")
	}

	u, err := s.store.GetUser(username)
	if err != nil {
		return nil, err
	}
	chal, expected, err := crypto.GenerateChallenge(u.PublicKey)
	if err != nil {
		return nil, domain.ErrMalformed
	}
	req.sess.SetChallenge(expected)
	req.sess.SetPendingUser(username)
	return chal, nil
}

// loginChallengeResponse completes the challenge. The pending expected
// value is consumed whatever the outcome, so each challenge is one shot.
func (s *Server) loginChallengeResponse(_ context.Context, req *request) (any, error) {
	expected, pending := req.sess.TakeChallenge()
	if !pending {
		return nil, domain.Auth("Not expecting a challenge response right now.")
	}
	response, err := req.data.str("response")
	if err != nil || response != expected {
		return nil, domain.Auth("Incorrect response.")
	}

	username := req.sess.PendingUser()
	req.sess.Authenticate(username)

	if err := s.router.LoginJoin(s.baseCtx, req.connID, username); err != nil {
		return nil, err
	}

	// Announce the stored status unless the user had set it to offline.
	u, err := s.store.GetUser(username)
	if err != nil {
		return nil, err
	}
	if u.Status != "offline" {
		s.router.NotifyProfile(req.connID, u.Profile())
	}
	s.log.Info().Str("conn_id", req.connID).Str("username", username).Msg("login complete")
	return true, nil
}

// register creates an account after proving the submitted key material is
// coherent: both keys decompress and sig binds the prekey to the identity
// key.
func (s *Server) register(_ context.Context, req *request) (any, error) {
	if _, loggedIn := req.sess.User(); loggedIn {
		return nil, domain.Auth("Already logged in.")
	}
	username, err := req.data.str("username")
	if err != nil {
		return nil, err
	}
	exists, err := s.store.UserExists(username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.Conflict("Username already exists.")
	}

	pub, err := req.data.str("public_key")
	if err != nil {
		return nil, err
	}
	if _, err := crypto.Decompress(pub); err != nil {
		return nil, domain.ErrMalformed
	}

	spk, err := req.data.str("spk")
	if err != nil {
		return nil, err
	}
	sig, err := req.data.str("sig")
	if err != nil {
		return nil, err
	}
	if err := crypto.Verify(pub, spk, sig); err != nil {
		return nil, domain.ErrMalformed
	}
	if _, err := crypto.Decompress(spk); err != nil {
		return nil, domain.ErrMalformed
	}

	ownStorage, err := req.data.str("own_storage")
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateUser(username, pub, spk, sig, ownStorage); err != nil {
		return nil, err
	}
	s.log.Info().Str("username", username).Msg("user registered")
	return true, nil
}

// usernameExists is the only unauthenticated lookup; registration forms
// poll it.
func (s *Server) usernameExists(_ context.Context, req *request) (any, error) {
	username, err := req.data.str("username")
	if err != nil {
		return nil, err
	}
	return s.store.UserExists(username)
}
