// server/server.go
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/snaked/gameserver/auth"
	"github.com/snaked/gameserver/lobby"
	"github.com/snaked/gameserver/logger"
	"github.com/snaked/gameserver/models"
	"github.com/snaked/gameserver/monitor"
	"github.com/snaked/gameserver/network"
	"github.com/snaked/gameserver/session"
)

const heartbeatInterval = 30 * time.Second

// GameServer accepts websocket connections, authenticates them and
// pumps their packets into the lobby. Everything game-related happens
// behind the lobby; the server only owns transport and sessions.
type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	authenticator  auth.Authenticator
	sessionManager *session.Manager
	lobby          *lobby.Manager
	monitor        *monitor.Monitor
	shutdownChan   chan struct{}
}

func NewGameServer(addr string, authenticator auth.Authenticator, sessions *session.Manager,
	lobbyManager *lobby.Manager, mon *monitor.Monitor) *GameServer {
	return &GameServer{
		addr:           addr,
		authenticator:  authenticator,
		sessionManager: sessions,
		lobby:          lobbyManager,
		monitor:        mon,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *GameServer) Start() error {
	http.HandleFunc("/ws", s.handleWebSocket)
	logger.Log.Infof("Game server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, nil)
}

func (s *GameServer) Shutdown() {
	close(s.shutdownChan)
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	// Anonymous connections are allowed; the lobby decides what they
	// may do.
	identity, err := s.authenticator.Authenticate(r.URL.Query().Get("token"))
	if err != nil && !errors.Is(err, auth.ErrInvalidToken) {
		logger.Log.Warnf("Auth failure from %s: %v", conn.RemoteAddr(), err)
	}
	if identity.Username == "" {
		identity.Username = "Player"
	}

	s.handleConnection(conn, identity)
}

func (s *GameServer) handleConnection(conn *websocket.Conn, identity auth.Identity) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(heartbeatInterval)

	sess := session.NewSession(uuid.New().String(), wsConn)
	sess.UserID = identity.UserID
	sess.Username = identity.Username
	s.sessionManager.Add(sess)
	if s.monitor != nil {
		s.monitor.IncOnlinePlayers()
	}

	logger.Log.Infof("New connection from %s, session %s, user %d (%s)",
		wsConn.RemoteAddr(), sess.ID, sess.UserID, sess.Username)

	defer func() {
		logger.Log.Infof("Connection closed, session %s", sess.ID)
		s.lobby.HandleDisconnect(sess)
		s.sessionManager.Remove(sess.ID)
		if s.monitor != nil {
			s.monitor.DecOnlinePlayers()
		}
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	if s.monitor != nil {
		s.monitor.IncMessagesReceived()
		defer func() { s.monitor.ObserveMessageLatency(time.Since(start)) }()
	}

	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
	case network.MsgTypeJoinLobby:
		var req models.JoinLobbyRequest
		if len(packet.Data) > 0 {
			if err := json.Unmarshal(packet.Data, &req); err != nil {
				s.sendError(sess, models.ReasonInvalidInput, "malformed join request")
				return
			}
		}
		s.lobby.HandleJoin(sess, req)
	case network.MsgTypeLeaveLobby:
		s.lobby.HandleLeave(sess)
	case network.MsgTypeMove:
		var req models.MoveRequest
		if err := json.Unmarshal(packet.Data, &req); err != nil {
			s.sendError(sess, models.ReasonInvalidInput, "malformed move")
			return
		}
		s.lobby.HandleMove(sess, req)
	default:
		logger.Log.Infof("Unknown message type %d from session %s", packet.MsgID, sess.ID)
	}
}

func (s *GameServer) sendError(sess *session.Session, reason, message string) {
	data, err := json.Marshal(models.Error{Message: message, Reason: reason})
	if err != nil {
		return
	}
	if err := sess.Send(network.MsgTypeError, data); err != nil {
		logger.Log.Warnf("Send error to session %s: %v", sess.ID, err)
	}
}
