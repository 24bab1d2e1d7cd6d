package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// MessageType represents the type of a controller message
type MessageType uint8

const (
	// Inbound RPC surface
	MsgRegisterWorker MessageType = iota
	MsgRecruitFromConfiguration
	MsgRecruitStorage
	MsgRegisterMaster
	MsgGetWorkers
	MsgGetClientWorkers
	MsgOpenDatabase
	MsgGetServerDBInfo
	MsgFailureMonitoring
	MsgStatus
	MsgPing

	// Outbound to workers
	MsgRecruitMaster
	MsgCoordinationPing
	MsgWaitFailure

	// Replies
	MsgReply
	MsgError
)

// Message is the request/reply envelope on the wire
type Message struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Data      []byte      `json:"data,omitempty"`
}

// NewMessage creates a message with a fresh id and the payload encoded
func NewMessage(msgType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Data:      dataBytes,
	}, nil
}

// Decode decodes the message payload into the provided value
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Frame flags
const (
	frameRaw    byte = 0
	frameSnappy byte = 1
)

// compressThreshold is the payload size above which frames are
// snappy-compressed; small control messages aren't worth the cycles.
const compressThreshold = 4096

var errEmptyFrame = errors.New("empty frame")

// EncodeFrame serializes a message for the wire
func EncodeFrame(m *Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(raw) > compressThreshold {
		return append([]byte{frameSnappy}, snappy.Encode(nil, raw)...), nil
	}
	return append([]byte{frameRaw}, raw...), nil
}

// DecodeFrame parses a wire frame back into a message
func DecodeFrame(b []byte) (*Message, error) {
	if len(b) == 0 {
		return nil, errEmptyFrame
	}
	raw := b[1:]
	if b[0] == frameSnappy {
		var err error
		raw, err = snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &m, nil
}
