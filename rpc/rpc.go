// rpc/rpc.go
package rpc

import (
	"context"
	"net"
	"net/rpc"
	"time"

	"github.com/snaked/gameserver/logger"
	"github.com/snaked/gameserver/models"
	"github.com/snaked/gameserver/services"
)

// Server manages the admin RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Register exposes a service's exported methods on the default rpc
// registry.
func (s *Server) Register(service interface{}) error {
	return rpc.Register(service)
}

// Start accepts connections until Stop closes the listener.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RevenueInjector is the lobby-side hook AdminService drives.
type RevenueInjector interface {
	InjectRevenue(roomID string, revenue float64) error
}

// AdminService exposes the operational surface: wallet inspection and
// revenue injection. Methods follow the net/rpc shape: exported args,
// pointer reply, error return.
type AdminService struct {
	wallet   *services.Wallet
	injector RevenueInjector
}

func NewAdminService(wallet *services.Wallet, injector RevenueInjector) *AdminService {
	return &AdminService{wallet: wallet, injector: injector}
}

type WalletStatsArgs struct {
	UserID int64
}

type WalletStatsReply struct {
	Stats *models.WalletStats
}

func (as *AdminService) GetWalletStats(args *WalletStatsArgs, reply *WalletStatsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := as.wallet.Stats(ctx, args.UserID)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}

type InjectRevenueArgs struct {
	RoomID  string
	Revenue float64
}

type InjectRevenueReply struct {
	Accepted bool
}

func (as *AdminService) InjectRevenue(args *InjectRevenueArgs, reply *InjectRevenueReply) error {
	if err := as.injector.InjectRevenue(args.RoomID, args.Revenue); err != nil {
		return err
	}
	reply.Accepted = true
	return nil
}
