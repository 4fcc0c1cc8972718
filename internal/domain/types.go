package domain

import "encoding/json"

// Relation status codes. Friend edges are stored in one direction but
// queried in both; block edges are applied in both directions but each
// party owns their own edge; requests are directional.
const (
	StatusRequest = "request"
	StatusFriend  = "friend"
	StatusBlock   = "block"
)

// Hex lengths of compressed Ed25519 points and signatures on the wire.
const (
	KeyHexLen = 64
	SigHexLen = 128
)

// User is a registered account. All key material is lowercase hex of
// compressed Ed25519 points; Sig is the Ed25519 signature by PublicKey
// over the SPK bytes. OwnStorage is an opaque client-side encrypted blob.
type User struct {
	ID             int64             `json:"id"`
	Username       string            `json:"username"`
	PublicKey      string            `json:"public_key"`
	SPK            string            `json:"spk"`
	Sig            string            `json:"sig"`
	Status         string            `json:"status"`
	Biography      string            `json:"biography"`
	ProfilePicture string            `json:"profile_picture"`
	OwnStorage     string            `json:"own_storage"`
	X3DHRequests   []json.RawMessage `json:"x3dh_requests"`
}

// Profile is the public view of a User: no id, storage blob or X3DH inbox.
type Profile struct {
	Username       string `json:"username"`
	PublicKey      string `json:"public_key"`
	SPK            string `json:"spk"`
	Sig            string `json:"sig"`
	Status         string `json:"status"`
	Biography      string `json:"biography"`
	ProfilePicture string `json:"profile_picture"`
}

// FullProfile additionally carries the caller's own storage blob.
type FullProfile struct {
	Profile
	OwnStorage string `json:"own_storage"`
}

// ListedProfile is the user-list view; it keeps the numeric id.
type ListedProfile struct {
	ID int64 `json:"id"`
	Profile
}

// Profile returns the public view of u.
func (u User) Profile() Profile {
	return Profile{
		Username:       u.Username,
		PublicKey:      u.PublicKey,
		SPK:            u.SPK,
		Sig:            u.Sig,
		Status:         u.Status,
		Biography:      u.Biography,
		ProfilePicture: u.ProfilePicture,
	}
}

// FullProfile returns the owner view of u.
func (u User) FullProfile() FullProfile {
	return FullProfile{Profile: u.Profile(), OwnStorage: u.OwnStorage}
}

// Listed returns the user-list view of u.
func (u User) Listed() ListedProfile {
	return ListedProfile{ID: u.ID, Profile: u.Profile()}
}

// DM is a conversation. PublicKeys holds the flattened key tree as a
// JSON-encoded array of compressed points, opaque to the server.
// Name is only meaningful for group DMs.
type DM struct {
	ID         int64   `json:"id"`
	PublicKeys string  `json:"public_keys"`
	Name       *string `json:"name"`
	CreatedAt  string  `json:"created_at"`
}

// DMInfo is a DM with its member set and latest message attached.
type DMInfo struct {
	DM
	Users         []string `json:"users"`
	LatestMessage *Message `json:"latest_message"`
}

// Message is a ciphertext entry in a DM's log. Timestamp and
// DeleteTimestamp are ISO-8601 UTC strings; DeleteTimestamp is set only
// when a self-destruct was requested.
type Message struct {
	ID              int64      `json:"id"`
	DMID            int64      `json:"dm_id"`
	Sender          string     `json:"sender"`
	Message         string     `json:"message"`
	Signature       string     `json:"signature"`
	Timestamp       string     `json:"timestamp"`
	DeleteTimestamp *string    `json:"delete_timestamp"`
	Pinned          bool       `json:"pinned"`
	Reactions       []Reaction `json:"reactions"`
}

// Reaction is a ciphertext reaction to a message.
type Reaction struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Reaction  string `json:"reaction"`
	Signature string `json:"signature"`
}

// ScheduledMessage is the client view of a pending scheduled message.
// Timestamp is the fire time.
type ScheduledMessage struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
}

// X3DHBundle is the prekey hand-off relayed to each DM target. Position 0
// in the key tree is the creator; targets start at 1. ID is the DM id.
type X3DHBundle struct {
	Sender   string   `json:"sender"`
	IK       string   `json:"ik"`
	SPK      string   `json:"spk"`
	EK       string   `json:"ek"`
	KeyTree  []string `json:"key_tree"`
	Position int      `json:"position"`
	ID       int64    `json:"id"`
}

// UserPatch is a partial update of mutable User fields; nil means leave
// unchanged. SPK and Sig are replaced together.
type UserPatch struct {
	SPK            *string
	Sig            *string
	Status         *string
	Biography      *string
	ProfilePicture *string
	OwnStorage     *string
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.SPK == nil && p.Sig == nil && p.Status == nil &&
		p.Biography == nil && p.ProfilePicture == nil && p.OwnStorage == nil
}

// MessagePatch is a partial update of a message (edit and/or pin toggle).
type MessagePatch struct {
	Message   *string
	Signature *string
	Pinned    *bool
}

// Empty reports whether the patch changes nothing.
func (p MessagePatch) Empty() bool {
	return p.Message == nil && p.Signature == nil && p.Pinned == nil
}
