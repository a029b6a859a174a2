package api

import (
	"context"
	"sort"
	"time"

	"github.com/matheus3301/duet/internal/realtime"
	"github.com/matheus3301/duet/internal/status"
	"github.com/matheus3301/duet/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionServer is the server API for the session service.
type SessionServer interface {
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
	Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error)
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
		unary(SessionServiceName, "Refresh", SessionServer.Refresh),
	},
}

// RegisterSessionServer registers srv on s.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// SessionService reports the daemon's link state and restarts channels.
type SessionService struct {
	sessionName string
	userID      string
	startedAt   time.Time
	machine     *status.Machine
	ctrl        *realtime.Controller
	db          *store.DB
}

// NewSessionService creates a session service. ctrl is nil while signed out.
func NewSessionService(sessionName, userID string, machine *status.Machine, ctrl *realtime.Controller, db *store.DB) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		userID:      userID,
		startedAt:   time.Now(),
		machine:     machine,
		ctrl:        ctrl,
		db:          db,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	current := s.machine.Current()
	resp := &StatusResponse{
		Session:   s.sessionName,
		State:     string(current),
		Indicator: current.Indicator(),
		UserID:    s.userID,
		UptimeMs:  time.Since(s.startedAt).Milliseconds(),
	}

	if s.ctrl != nil {
		reg := s.ctrl.Registry()
		sum := reg.ConnectionSummary()
		resp.Joined = sum.Joined
		resp.NotJoined = sum.NotJoined
		resp.PendingRetries = reg.PendingRetries()
		for name, link := range s.ctrl.Snapshot() {
			resp.Channels = append(resp.Channels, ChannelStatus{Name: name, Phase: string(link.Phase), Attempt: link.Attempt})
		}
		sort.Slice(resp.Channels, func(i, j int) bool { return resp.Channels[i].Name < resp.Channels[j].Name })
	}

	if s.db != nil {
		if n, err := s.db.MessageCount(""); err == nil {
			resp.MessageCount = n
		}
	}
	return resp, nil
}

func (s *SessionService) Refresh(_ context.Context, req *RefreshRequest) (*RefreshResponse, error) {
	if s.ctrl == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "realtime not running (state %s)", s.machine.Current())
	}
	if req.Channel != "" {
		if _, ok := s.ctrl.Snapshot()[req.Channel]; !ok {
			return nil, grpcstatus.Errorf(codes.NotFound, "channel %q is not registered", req.Channel)
		}
		s.ctrl.Refresh(req.Channel)
		return &RefreshResponse{Channels: 1}, nil
	}
	n := len(s.ctrl.Snapshot())
	s.ctrl.RefreshAll()
	return &RefreshResponse{Channels: n}, nil
}
