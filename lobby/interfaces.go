// lobby/interfaces.go
package lobby

// Metrics is the slice of the monitor the lobby updates. A nil
// implementation is allowed; the manager guards every call.
type Metrics interface {
	SetActiveRooms(count int)
	SetQueuedPlayers(count int)
	IncSettlementFailures()
	IncGamesStarted()
}
