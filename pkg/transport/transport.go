// Package transport abstracts the messaging layer under the cluster
// controller's RPC surface.
//
// The Socket interfaces decouple the controller from the underlying
// messaging library; factories provide NNG sockets by default and ZMQ
// sockets behind the zmq build tag. Tests use in-process mocks.
package transport

import (
	"io"
	"time"
)

// Socket represents a messaging socket that can send and receive messages.
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// ListenSocket is a socket that can bind to an address.
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// DialSocket is a socket that can connect to a remote address.
type DialSocket interface {
	Socket
	Dial(addr string) error
}

// Context is one independent request exchange on a rep socket. A context
// must alternate Recv and Send.
type Context interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Close() error
}

// RepSocket is a reply socket that can serve concurrent exchanges through
// contexts; a long-poll reply in one context does not block the others.
type RepSocket interface {
	ListenSocket
	OpenContext() (Context, error)
}

// SurveySocket is a SURVEYOR socket with survey timeout configuration.
type SurveySocket interface {
	ListenSocket
	SetSurveyTime(d time.Duration) error
}

// SocketFactory creates sockets for the messaging patterns the controller
// uses: rep for its inbound RPC surface, req for outbound calls to
// workers, surveyor/respondent for the coordination ping broadcast.
type SocketFactory interface {
	NewRepSocket() (RepSocket, error)
	NewReqSocket() (DialSocket, error)
	NewSurveyorSocket() (SurveySocket, error)
	NewRespondentSocket() (DialSocket, error)
}

// Config holds addresses for the controller transport.
type Config struct {
	// RequestAddr is the bind address of the rep socket serving the RPC
	// surface, e.g. "tcp://*:4500"
	RequestAddr string `yaml:"request_addr"`
	// CoordinationAddr is the bind address of the surveyor socket used
	// for coordination pings, e.g. "tcp://*:4501"
	CoordinationAddr string `yaml:"coordination_addr"`
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		RequestAddr:      "tcp://*:4500",
		CoordinationAddr: "tcp://*:4501",
	}
}
