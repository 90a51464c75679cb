package game

// Broadcaster fans an encoded event out to every session seated in a
// room. Defined here to break the import cycle between game and
// broadcast.
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
}
