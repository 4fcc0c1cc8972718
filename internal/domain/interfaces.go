package domain

import (
	"encoding/json"
	"time"
)

// Store is the transactional persistence layer. Every method runs as one
// atomic transaction; a returned error means nothing was committed.
// All methods assume input validation has already taken place.
type Store interface {
	// Users
	CreateUser(username, publicKey, spk, sig, ownStorage string) error
	GetUser(username string) (User, error)
	UserExists(username string) (bool, error)
	ListUsers() ([]User, error)
	UpdateUser(username string, patch UserPatch) error

	// DMs
	CreateDM(usernames []string, keyTree []string) (int64, error)
	GetDM(id int64) (DMInfo, error)
	UserDMs(username string) ([]int64, error)
	SetDMName(id int64, name string) error
	LeaveDM(id int64, username string) error
	DMExists(id int64) (bool, error)
	DMUsersExist(usernames []string) (bool, error)
	UserInDM(username string, id int64) (bool, error)

	// Messages
	CreateMessage(dmID int64, sender, message, signature string, deleteAfter time.Duration) (Message, error)
	GetMessage(id int64) (Message, error)
	MessageExists(id int64) (bool, error)
	MessageInUserDM(id int64, username string) (bool, error)
	Messages(dmID int64, cursor time.Time, limit int) ([]Message, error)
	PinnedMessages(dmID int64) ([]Message, error)
	UpdateMessage(id int64, patch MessagePatch) error
	DeleteMessage(id int64) error

	// Reactions
	CreateReaction(messageID int64, sender, reaction, signature string) (int64, error)
	GetReaction(id int64) (Reaction, error)
	ReactionExists(id int64) (bool, error)
	DeleteReaction(id int64) (messageID int64, err error)

	// Relations
	CreateRelation(from, to, status string) error
	SetRelationStatus(from, to, status string) error
	DeleteRelation(from, to string) error
	IsRelation(from, to, status string) (bool, error)
	OutgoingOfStatus(username, status string) ([]string, error)
	IncomingOfStatus(username, status string) ([]string, error)
	OfStatus(username, status string) ([]string, error)

	// X3DH inbox
	AppendX3DH(username string, payload json.RawMessage) error
	TakeX3DH(username string) ([]json.RawMessage, error)
}

// Broadcaster is the transport's room and fan-out surface. Connection ids
// identify live sockets; rooms are named broadcast groups. Emits are
// best-effort.
type Broadcaster interface {
	Join(room, connID string)
	Leave(room, connID string)
	LeaveAll(connID string)

	// Broadcast emits to every connection, optionally skipping one.
	Broadcast(event string, payload any, skip string)
	// ToRoom emits to every connection in room.
	ToRoom(room, event string, payload any)
	// ToRoomSkip emits to room, skipping one connection.
	ToRoomSkip(room, event string, payload any, skip string)
}
