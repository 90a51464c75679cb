package network

// Message IDs for the snake arena protocol. Payloads are JSON, shapes
// defined in the models package.
const (
	MsgTypeHeartbeat = 1

	// client -> server
	MsgTypeJoinLobby  = 101
	MsgTypeLeaveLobby = 102
	MsgTypeMove       = 201

	// server -> client
	MsgTypeLobbyUpdate    = 301
	MsgTypeGameStart      = 302
	MsgTypeGameState      = 303
	MsgTypePlayerJoined   = 304
	MsgTypePlayerLeft     = 305
	MsgTypePlayerDied     = 306
	MsgTypeMoneyCollected = 307
	MsgTypeCashOut        = 308
	MsgTypeError          = 401
)
