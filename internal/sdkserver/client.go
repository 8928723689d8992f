package sdkserver

import (
	"encoding/json"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a running server.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Call invokes service/method with input marshaled to JSON.
func (c *Client) Call(service, method string, input any, callType int) (*CallResponse, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var resp CallResponse
	req := CallRequest{Service: service, Method: method, Input: data, CallType: callType}
	if err := c.client.Call(rpcName+".Call", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMethods returns the server's visible methods.
func (c *Client) ListMethods() ([]string, error) {
	var resp ListMethodsResponse
	if err := c.client.Call(rpcName+".ListMethods", ListMethodsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Methods, nil
}
