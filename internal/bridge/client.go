package bridge

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

// Client talks to a bridge Server and implements agent.Environment.
type Client struct {
	conn    grpc.ClientConnInterface
	episode string
}

// NewClient creates a client over an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial opens a plaintext connection to a bridge at addr (host:port).
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", addr, err)
	}
	return conn, nil
}

// Reset starts the episode and returns the first observation.
func (c *Client) Reset(ctx context.Context) (StaticResult, error) {
	resp, err := c.call(ctx, resetMethod, resetRequest{})
	if err != nil {
		return StaticResult{}, fmt.Errorf("rpc reset failed: %w", err)
	}
	c.episode = resp.EpisodeID
	return resp.Result, nil
}

// Step submits an action and returns the next observation.
func (c *Client) Step(ctx context.Context, action types.StaticAction) (StaticResult, error) {
	resp, err := c.call(ctx, stepMethod, stepRequest{EpisodeID: c.episode, Action: action})
	if err != nil {
		return StaticResult{}, fmt.Errorf("rpc step failed: %w", err)
	}
	return resp.Result, nil
}

// EpisodeID returns the id assigned by the server on Reset.
func (c *Client) EpisodeID() string {
	return c.episode
}

func (c *Client) call(ctx context.Context, method string, req interface{}) (resultResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return resultResponse{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return resultResponse{}, err
	}

	var resp resultResponse
	if err := fromStruct(out, &resp); err != nil {
		return resultResponse{}, err
	}
	return resp, nil
}
