package rpctransport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dittomount/dms/pkg/model"
)

// CallMount marshals req, calls nodeID's inbound queue, and unmarshals
// the reply into a MountResponse.
func CallMount(ctx context.Context, c *Client, nodeID string, req *model.MountRequest, timeout time.Duration) (*model.MountResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &model.TransportError{Op: "call", Queue: InboundQueueName(nodeID), Message: "failed to encode request", Err: err}
	}

	replyBody, err := c.Call(ctx, nodeID, body, timeout)
	if err != nil {
		return nil, err
	}

	var resp model.MountResponse
	if err := json.Unmarshal(replyBody, &resp); err != nil {
		return nil, &model.TransportError{Op: "call", Queue: InboundQueueName(nodeID), Message: "failed to decode reply", Err: err}
	}
	return &resp, nil
}

// MarshalResponse is the server-side counterpart used by the handler
// passed to Listener.Serve.
func MarshalResponse(resp *model.MountResponse) []byte {
	body, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"status":"error","error_msg":"failed to encode response"}`)
	}
	return body
}

// UnmarshalRequest decodes a raw delivery body into a MountRequest.
func UnmarshalRequest(body []byte) (*model.MountRequest, error) {
	var req model.MountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &model.ValidationError{Message: "malformed request body: " + err.Error()}
	}
	return &req, nil
}
