package api

import (
	"context"

	"github.com/matheus3301/duet/internal/actions"
	"github.com/matheus3301/duet/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ActionServer is the server API for the action service.
type ActionServer interface {
	Perform(context.Context, *PerformRequest) (*PerformResponse, error)
	RecentActions(context.Context, *RecentActionsRequest) (*RecentActionsResponse, error)
}

var ActionServiceDesc = grpc.ServiceDesc{
	ServiceName: ActionServiceName,
	HandlerType: (*ActionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ActionServiceName, "Perform", ActionServer.Perform),
		unary(ActionServiceName, "RecentActions", ActionServer.RecentActions),
	},
}

// RegisterActionServer registers srv on s.
func RegisterActionServer(s grpc.ServiceRegistrar, srv ActionServer) {
	s.RegisterService(&ActionServiceDesc, srv)
}

// ActionService runs user actions optimistically on behalf of the signed-in user.
type ActionService struct {
	runner *actions.Runner
	userID string
}

// NewActionService creates an action service. runner is nil while signed out.
func NewActionService(runner *actions.Runner, userID string) *ActionService {
	return &ActionService{runner: runner, userID: userID}
}

func (s *ActionService) Perform(ctx context.Context, req *PerformRequest) (*PerformResponse, error) {
	if s.runner == nil || s.userID == "" {
		return nil, grpcstatus.Errorf(codes.Unauthenticated, "perform: no signed-in user")
	}
	if _, _, ok := actions.Optimistic(req.Kind); !ok {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "perform: unknown action %q", req.Kind)
	}
	id, err := s.runner.Perform(ctx, actions.Action{Kind: req.Kind, TargetID: req.TargetID, ActorID: s.userID})
	if err != nil {
		return nil, toStatus("perform "+req.Kind, err)
	}
	return &PerformResponse{ActionID: id, Status: store.ActionSent}, nil
}

func (s *ActionService) RecentActions(_ context.Context, req *RecentActionsRequest) (*RecentActionsResponse, error) {
	if s.runner == nil {
		return &RecentActionsResponse{}, nil
	}
	log, err := s.runner.Recent(req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "recent actions: %v", err)
	}
	out := make([]ActionRecord, 0, len(log))
	for _, a := range log {
		out = append(out, ActionRecord{
			ID:              a.ID,
			Kind:            a.Kind,
			TargetID:        a.TargetID,
			Status:          a.Status,
			Error:           a.ErrorMessage,
			CreatedAtUnixMs: a.CreatedAt,
		})
	}
	return &RecentActionsResponse{Actions: out}, nil
}
