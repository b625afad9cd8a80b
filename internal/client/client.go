// Package client talks to a ledgerwatch gRPC server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/pipeline"
	"github.com/ppiankov/ledgerwatch/internal/server"
)

// DefaultTimeout bounds approval calls that carry no deadline.
const DefaultTimeout = 5 * time.Second

// Client is a connection to a ledgerwatch server.
type Client struct {
	conn   *grpc.ClientConn
	client server.LedgerServiceClient
	token  string
}

// Dial creates a client for addr. token is sent as a bearer credential on
// every call.
func Dial(addr, token string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger server: %w", err)
	}
	return &Client{
		conn:   conn,
		client: server.NewLedgerServiceClient(conn),
		token:  token,
	}, nil
}

// Execute submits a raw action request. The returned error is the
// classified pipeline error carried by the response, or a transport error.
func (c *Client) Execute(ctx context.Context, raw map[string]any) (pipeline.Response, error) {
	in, err := structpb.NewStruct(raw)
	if err != nil {
		return pipeline.Response{}, fmt.Errorf("encode request: %w", err)
	}
	out, err := c.client.Execute(c.authorize(ctx), in)
	if err != nil {
		return pipeline.Response{}, err
	}
	var resp pipeline.Response
	if err := decode(out, &resp); err != nil {
		return pipeline.Response{}, err
	}
	return resp, resp.Err()
}

// ListPending returns approvals waiting for an operator.
func (c *Client) ListPending(ctx context.Context) ([]approval.Approval, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	out, err := c.client.ListPending(c.authorize(ctx), &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	var body struct {
		Approvals []approval.Approval `json:"approvals"`
	}
	if err := decode(out, &body); err != nil {
		return nil, err
	}
	return body.Approvals, nil
}

// Approve grants a pending approval. A positive duration keeps it reusable
// until it expires.
func (c *Client) Approve(ctx context.Context, key string, duration time.Duration) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	fields := map[string]*structpb.Value{"key": structpb.NewStringValue(key)}
	if duration > 0 {
		fields["duration"] = structpb.NewStringValue(duration.String())
	}
	_, err := c.client.Approve(c.authorize(ctx), &structpb.Struct{Fields: fields})
	return err
}

// Deny rejects a pending approval.
func (c *Client) Deny(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	in := &structpb.Struct{Fields: map[string]*structpb.Value{"key": structpb.NewStringValue(key)}}
	_, err := c.client.Deny(c.authorize(ctx), in)
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) authorize(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

func decode(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
