// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/snaked/gameserver/game"
	"github.com/snaked/gameserver/session"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// Broadcaster fans encoded events out to groups of sessions.
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	BroadcastToSessions(sessions []*session.Session, msgID uint16, data []byte)
	BroadcastToUser(userID int64, msgID uint16, data []byte)
}

// RoomBroadcaster resolves rooms through the registry and sessions
// through the session index.
type RoomBroadcaster struct {
	roomManager    *game.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *game.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	room, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}

	// A failed send means a dying socket; its read loop will clean the
	// session up, so just move on to the next member.
	for _, s := range room.Sessions() {
		if err := s.Send(msgID, data); err != nil {
			continue
		}
	}
	return nil
}

func (b *RoomBroadcaster) BroadcastToSessions(sessions []*session.Session, msgID uint16, data []byte) {
	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			continue
		}
	}
}

func (b *RoomBroadcaster) BroadcastToUser(userID int64, msgID uint16, data []byte) {
	for _, s := range b.sessionManager.GetByUserID(userID) {
		if err := s.Send(msgID, data); err != nil {
			continue
		}
	}
}
