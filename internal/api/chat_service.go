package api

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/goccy/go-json"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/chat"
	"github.com/matheus3301/duet/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

// ChatServer is the server API for the chat service.
type ChatServer interface {
	Open(context.Context, *ConversationRequest) (*OpenResponse, error)
	Close(context.Context, *ConversationRequest) (*CloseResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	LoadMore(context.Context, *ConversationRequest) (*LoadMoreResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	Input(context.Context, *InputRequest) (*InputResponse, error)
	PeerState(context.Context, *ConversationRequest) (*PeerStateResponse, error)
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	WatchEvents(*WatchRequest, EventStream) error
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "Open", ChatServer.Open),
		unary(ChatServiceName, "Close", ChatServer.Close),
		unary(ChatServiceName, "Send", ChatServer.Send),
		unary(ChatServiceName, "LoadMore", ChatServer.LoadMore),
		unary(ChatServiceName, "ListMessages", ChatServer.ListMessages),
		unary(ChatServiceName, "Input", ChatServer.Input),
		unary(ChatServiceName, "PeerState", ChatServer.PeerState),
		unary(ChatServiceName, "Search", ChatServer.Search),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// WatchEventsStreamDesc is the client-side descriptor of WatchEvents.
var WatchEventsStreamDesc = &ChatServiceDesc.Streams[0]

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServer).WatchEvents(in, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *EventEnvelope) error {
	return s.ServerStream.SendMsg(e)
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

// defaultWatch are the event namespaces WatchEvents streams when none are given.
var defaultWatch = []string{"chat.", "realtime.", "action.", "link."}

// ChatService exposes open conversations and the local mirror.
type ChatService struct {
	sessionName string
	manager     *chat.Manager
	db          *store.DB
	bus         *bus.Bus
}

// NewChatService creates a chat service. manager is nil while signed out;
// Search and mirror reads still work.
func NewChatService(sessionName string, manager *chat.Manager, db *store.DB, b *bus.Bus) *ChatService {
	return &ChatService{sessionName: sessionName, manager: manager, db: db, bus: b}
}

func (s *ChatService) conversation(id string) (*chat.Conversation, error) {
	if s.manager == nil {
		return nil, chat.ErrNoUser
	}
	if id == "" {
		return nil, chat.ErrNoConversation
	}
	return s.manager.Get(id)
}

func (s *ChatService) Open(ctx context.Context, req *ConversationRequest) (*OpenResponse, error) {
	if s.manager == nil {
		return nil, toStatus("open", chat.ErrNoUser)
	}
	conv, err := s.manager.Open(ctx, req.ConversationID)
	if conv == nil {
		return nil, toStatus("open", err)
	}
	resp := &OpenResponse{
		ConversationID: conv.ID(),
		Messages:       fromChat(conv.Messages()),
		HasMore:        conv.HasMore(),
	}
	if err != nil {
		resp.LoadError = err.Error()
	}
	return resp, nil
}

func (s *ChatService) Close(ctx context.Context, req *ConversationRequest) (*CloseResponse, error) {
	if s.manager == nil {
		return &CloseResponse{}, nil
	}
	return &CloseResponse{Closed: s.manager.Close(ctx, req.ConversationID)}, nil
}

func (s *ChatService) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	conv, err := s.conversation(req.ConversationID)
	if err != nil {
		return nil, toStatus("send", err)
	}
	saved, err := conv.Send(ctx, req.Content, req.MediaURL)
	if err != nil {
		return nil, toStatus("send", err)
	}
	if saved.ID == "" {
		return &SendResponse{}, nil
	}
	m := messageFromChat(saved)
	return &SendResponse{Message: &m}, nil
}

func (s *ChatService) LoadMore(ctx context.Context, req *ConversationRequest) (*LoadMoreResponse, error) {
	conv, err := s.conversation(req.ConversationID)
	if err != nil {
		return nil, toStatus("load more", err)
	}
	if err := conv.LoadMore(ctx); err != nil {
		return nil, toStatus("load more", err)
	}
	return &LoadMoreResponse{Messages: len(conv.Messages()), HasMore: conv.HasMore()}, nil
}

// ListMessages returns the cache of an open conversation, or a page of the
// local mirror when the conversation is not open.
func (s *ChatService) ListMessages(_ context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if req.ConversationID == "" {
		return nil, toStatus("list messages", chat.ErrNoConversation)
	}
	if conv, err := s.conversation(req.ConversationID); err == nil {
		return &ListMessagesResponse{Messages: fromChat(conv.Messages()), HasMore: conv.HasMore(), Source: "cache"}, nil
	}
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "conversation %s is not open", req.ConversationID)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.db.ListMessages(req.ConversationID, req.BeforeUnixMs, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageFromStore(m))
	}
	return &ListMessagesResponse{Messages: out, HasMore: len(msgs) == limit, Source: "mirror"}, nil
}

func (s *ChatService) Input(ctx context.Context, req *InputRequest) (*InputResponse, error) {
	conv, err := s.conversation(req.ConversationID)
	if err != nil {
		return nil, toStatus("input", err)
	}
	conv.Typing(ctx, req.Text)
	return &InputResponse{Typing: conv.IsTyping()}, nil
}

func (s *ChatService) PeerState(_ context.Context, req *ConversationRequest) (*PeerStateResponse, error) {
	conv, err := s.conversation(req.ConversationID)
	if err != nil {
		return nil, toStatus("peer state", err)
	}
	return &PeerStateResponse{Typing: conv.IsPeerTyping(), Online: conv.PeerOnline()}, nil
}

func (s *ChatService) Search(_ context.Context, req *SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "search: query is required")
	}
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "search: store not available")
	}
	results, err := s.db.SearchMessages(req.Query, req.ConversationID, req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{Message: messageFromStore(r.Message), Snippet: r.Snippet})
	}
	return &SearchResponse{Results: out}, nil
}

func (s *ChatService) WatchEvents(req *WatchRequest, stream EventStream) error {
	prefixes := req.Prefixes
	if len(prefixes) == 0 {
		prefixes = defaultWatch
	}
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matches(evt.Kind, prefixes) {
				continue
			}
			env, err := s.envelope(evt)
			if err != nil {
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *ChatService) envelope(evt bus.Event) (*EventEnvelope, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	return &EventEnvelope{
		EventID:          uuid.NewString(),
		Session:          s.sessionName,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
		Kind:             evt.Kind,
		Payload:          payload,
	}, nil
}

func matches(kind string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

func fromChat(msgs []chat.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageFromChat(m))
	}
	return out
}

func messageFromChat(m chat.Message) Message {
	return Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		MediaURL:        m.MediaURL,
		Pending:         m.IsTemp(),
		CreatedAtUnixMs: m.CreatedAt.UnixMilli(),
	}
}

func messageFromStore(m store.Message) Message {
	return Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		MediaURL:        m.MediaURL,
		CreatedAtUnixMs: m.CreatedAt,
	}
}

// Time converts a wire timestamp for display.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.CreatedAtUnixMs)
}
