// Package client dials a session daemon and offers typed calls for each
// service.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/duet/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn    *grpc.ClientConn
	Session *SessionClient
	Chat    *ChatClient
	Action  *ActionClient
}

// New dials the daemon's Unix domain socket. The connection is lazy; the
// first call reports an unreachable daemon.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{
		conn:    conn,
		Session: &SessionClient{conn},
		Chat:    &ChatClient{conn},
		Action:  &ActionClient{conn},
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, api.FullMethod(service, method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

type SessionClient struct {
	cc grpc.ClientConnInterface
}

func (c *SessionClient) GetStatus(ctx context.Context) (*api.StatusResponse, error) {
	return invoke[api.StatusResponse](ctx, c.cc, api.SessionServiceName, "GetStatus", &api.StatusRequest{})
}

func (c *SessionClient) Refresh(ctx context.Context, channel string) (*api.RefreshResponse, error) {
	return invoke[api.RefreshResponse](ctx, c.cc, api.SessionServiceName, "Refresh", &api.RefreshRequest{Channel: channel})
}

type ChatClient struct {
	cc grpc.ClientConnInterface
}

func (c *ChatClient) Open(ctx context.Context, conversationID string) (*api.OpenResponse, error) {
	return invoke[api.OpenResponse](ctx, c.cc, api.ChatServiceName, "Open", &api.ConversationRequest{ConversationID: conversationID})
}

func (c *ChatClient) Close(ctx context.Context, conversationID string) (*api.CloseResponse, error) {
	return invoke[api.CloseResponse](ctx, c.cc, api.ChatServiceName, "Close", &api.ConversationRequest{ConversationID: conversationID})
}

func (c *ChatClient) Send(ctx context.Context, req *api.SendRequest) (*api.SendResponse, error) {
	return invoke[api.SendResponse](ctx, c.cc, api.ChatServiceName, "Send", req)
}

func (c *ChatClient) LoadMore(ctx context.Context, conversationID string) (*api.LoadMoreResponse, error) {
	return invoke[api.LoadMoreResponse](ctx, c.cc, api.ChatServiceName, "LoadMore", &api.ConversationRequest{ConversationID: conversationID})
}

func (c *ChatClient) ListMessages(ctx context.Context, req *api.ListMessagesRequest) (*api.ListMessagesResponse, error) {
	return invoke[api.ListMessagesResponse](ctx, c.cc, api.ChatServiceName, "ListMessages", req)
}

func (c *ChatClient) Input(ctx context.Context, conversationID, text string) (*api.InputResponse, error) {
	return invoke[api.InputResponse](ctx, c.cc, api.ChatServiceName, "Input", &api.InputRequest{ConversationID: conversationID, Text: text})
}

func (c *ChatClient) PeerState(ctx context.Context, conversationID string) (*api.PeerStateResponse, error) {
	return invoke[api.PeerStateResponse](ctx, c.cc, api.ChatServiceName, "PeerState", &api.ConversationRequest{ConversationID: conversationID})
}

func (c *ChatClient) Search(ctx context.Context, req *api.SearchRequest) (*api.SearchResponse, error) {
	return invoke[api.SearchResponse](ctx, c.cc, api.ChatServiceName, "Search", req)
}

// WatchEvents streams daemon events until ctx ends or the stream fails.
// fn is called for each envelope in order.
func (c *ChatClient) WatchEvents(ctx context.Context, prefixes []string, fn func(*api.EventEnvelope)) error {
	stream, err := c.cc.NewStream(ctx, api.WatchEventsStreamDesc, api.FullMethod(api.ChatServiceName, "WatchEvents"))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&api.WatchRequest{Prefixes: prefixes}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		env := new(api.EventEnvelope)
		if err := stream.RecvMsg(env); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(env)
	}
}

type ActionClient struct {
	cc grpc.ClientConnInterface
}

func (c *ActionClient) Perform(ctx context.Context, kind, targetID string) (*api.PerformResponse, error) {
	return invoke[api.PerformResponse](ctx, c.cc, api.ActionServiceName, "Perform", &api.PerformRequest{Kind: kind, TargetID: targetID})
}

func (c *ActionClient) RecentActions(ctx context.Context, limit int) (*api.RecentActionsResponse, error) {
	return invoke[api.RecentActionsResponse](ctx, c.cc, api.ActionServiceName, "RecentActions", &api.RecentActionsRequest{Limit: limit})
}
