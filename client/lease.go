package client

import (
	"context"
	"fmt"
)

// Grant creates a lease that expires after ttl seconds without keep-alives.
// id 0 lets the server choose the ID.
func (c *Client) Grant(ctx context.Context, ttl, id int64) (*Result, error) {
	body, err := c.request(ctx, PathLeaseGrant, Params{"TTL": ttl, "ID": id}, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Body: body}, nil
}

// Revoke deletes the lease and every key attached to it.
func (c *Client) Revoke(ctx context.Context, id int64) (*Result, error) {
	body, err := c.request(ctx, PathLeaseRevoke, Params{"ID": id}, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Body: body}, nil
}

// KeepAlive refreshes the lease once. Gateways that wrap the stream message
// in "result" are unwrapped to {ID, TTL} regardless of pretty mode.
func (c *Client) KeepAlive(ctx context.Context, id int64) (*Result, error) {
	body, err := c.request(ctx, PathLeaseKeepAlive, Params{"ID": id}, nil)
	if err != nil {
		return nil, err
	}
	if raw, ok := body["result"]; ok && raw != nil {
		result, ok := asMap(raw)
		if !ok {
			return nil, &ParseError{Path: PathLeaseKeepAlive, Field: "result", Err: fmt.Errorf("unexpected %T", raw)}
		}
		body = Body{"ID": result["ID"], "TTL": result["TTL"]}
	}
	return &Result{Body: body}, nil
}

// TimeToLive reports the remaining TTL of the lease; keys also lists the
// attached keys. An expired or revoked lease reports TTL -1.
func (c *Client) TimeToLive(ctx context.Context, id int64, keys bool) (*Result, error) {
	body, err := c.request(ctx, PathLeaseTimeToLive, Params{"ID": id, "keys": keys}, nil)
	if err != nil {
		return nil, err
	}
	body, err = decodeStringList(PathLeaseTimeToLive, body, "keys")
	if err != nil {
		return nil, err
	}
	return &Result{Body: body}, nil
}
