package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
)

// Requester is the part of NATSClient the room client needs.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// RoomReply is the room service's answer to create and remove requests.
type RoomReply struct {
	RoomID string `json:"room_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type removeRoomRequest struct {
	RoomID string `json:"room_id"`
}

// RoomClient talks to the room service over request/reply.
type RoomClient struct {
	req Requester
}

// NewRoomClient creates a room client on req.
func NewRoomClient(req Requester) *RoomClient {
	return &RoomClient{req: req}
}

// CreateRoom asks the room service for a room and returns its id.
func (c *RoomClient) CreateRoom(ctx context.Context, cfg dispatch.RoomConfig) (string, error) {
	reply, err := c.call(ctx, SubjectRoomCreate, cfg)
	if err != nil {
		return "", err
	}
	if reply.RoomID == "" {
		return "", errors.New("messaging: room service returned no room id")
	}
	return reply.RoomID, nil
}

// RemoveRoom asks the room service to tear down roomID.
func (c *RoomClient) RemoveRoom(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, SubjectRoomRemove, removeRoomRequest{RoomID: roomID})
	return err
}

func (c *RoomClient) call(ctx context.Context, subject string, body interface{}) (RoomReply, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return RoomReply{}, fmt.Errorf("messaging: encode %s: %w", subject, err)
	}
	raw, err := c.req.Request(ctx, subject, data)
	if err != nil {
		return RoomReply{}, err
	}
	var reply RoomReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return RoomReply{}, fmt.Errorf("messaging: decode %s reply: %w", subject, err)
	}
	if reply.Error != "" {
		return reply, fmt.Errorf("messaging: %s: %s", subject, reply.Error)
	}
	return reply, nil
}
