package main

import (
	"github.com/snaked/gameserver/auth"
	"github.com/snaked/gameserver/broadcast"
	"github.com/snaked/gameserver/config"
	"github.com/snaked/gameserver/game"
	"github.com/snaked/gameserver/lobby"
	"github.com/snaked/gameserver/logger"
	"github.com/snaked/gameserver/monitor"
	"github.com/snaked/gameserver/persistence"
	gameserver_rpc "github.com/snaked/gameserver/rpc"
	"github.com/snaked/gameserver/server"
	"github.com/snaked/gameserver/services"
	"github.com/snaked/gameserver/session"
	"github.com/snaked/gameserver/timer"
)

func newStore(cfg *config.Config) (persistence.Store, error) {
	pg := cfg.Database.Postgres
	if cfg.Database.Driver == "pq" {
		return persistence.NewPQStore(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	}
	return persistence.NewGormStore(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
}

func main() {
	logger.Init()
	defer logger.Sync()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Log.Info("Database connection successful.")

	wallet := services.NewWallet(store)
	sessions := session.NewManager()
	rooms := game.NewManager()
	broadcaster := broadcast.NewRoomBroadcaster(rooms, sessions)
	timers := timer.NewTimerManager()
	defer timers.Stop()

	mon := monitor.NewMonitor("snaked")
	mon.StartServer(cfg.Server.MetricsAddress)

	lobbyManager := lobby.NewManager(cfg.Lobby, cfg.Game, rooms, broadcaster, wallet, timers, mon)
	defer lobbyManager.Stop()

	rpcServer, err := gameserver_rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	if err := rpcServer.Register(gameserver_rpc.NewAdminService(wallet, lobbyManager)); err != nil {
		logger.Log.Fatalf("Failed to register RPC service: %v", err)
	}
	go rpcServer.Start()
	defer rpcServer.Stop()

	authenticator := auth.NewJWTAuthenticator(cfg.Server.JWTSecret)
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, authenticator, sessions, lobbyManager, mon)

	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
