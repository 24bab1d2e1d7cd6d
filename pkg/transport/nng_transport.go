//go:build !zmq
// +build !zmq

package transport

import (
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"
	"go.nanomsg.org/mangos/v3/protocol/respondent"
	"go.nanomsg.org/mangos/v3/protocol/surveyor"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// nngSocket wraps a mangos.Socket to implement our Socket interface.
type nngSocket struct {
	sock mangos.Socket
}

func (s *nngSocket) Send(data []byte) error {
	return s.sock.Send(data)
}

func (s *nngSocket) Recv() ([]byte, error) {
	return s.sock.Recv()
}

func (s *nngSocket) Close() error {
	return s.sock.Close()
}

func (s *nngSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionRecvDeadline, d)
}

func (s *nngSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSendDeadline, d)
}

func (s *nngSocket) Listen(addr string) error {
	return s.sock.Listen(addr)
}

func (s *nngSocket) Dial(addr string) error {
	return s.sock.Dial(addr)
}

// nngRepSocket adds per-request contexts.
type nngRepSocket struct {
	nngSocket
}

func (s *nngRepSocket) OpenContext() (Context, error) {
	ctx, err := s.sock.OpenContext()
	if err != nil {
		return nil, err
	}
	return &nngContext{ctx: ctx}, nil
}

type nngContext struct {
	ctx mangos.Context
}

func (c *nngContext) Send(data []byte) error {
	return c.ctx.Send(data)
}

func (c *nngContext) Recv() ([]byte, error) {
	return c.ctx.Recv()
}

func (c *nngContext) Close() error {
	return c.ctx.Close()
}

// nngSurveySocket adds survey time configuration.
type nngSurveySocket struct {
	nngSocket
}

func (s *nngSurveySocket) SetSurveyTime(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSurveyTime, d)
}

// NNGFactory creates NNG sockets. This is the default transport.
type NNGFactory struct{}

// NewFactory returns the default socket factory for this build.
func NewFactory() SocketFactory {
	return &NNGFactory{}
}

func (f *NNGFactory) NewRepSocket() (RepSocket, error) {
	sock, err := rep.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngRepSocket{nngSocket{sock: sock}}, nil
}

func (f *NNGFactory) NewReqSocket() (DialSocket, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSocket{sock: sock}, nil
}

func (f *NNGFactory) NewSurveyorSocket() (SurveySocket, error) {
	sock, err := surveyor.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSurveySocket{nngSocket{sock: sock}}, nil
}

func (f *NNGFactory) NewRespondentSocket() (DialSocket, error) {
	sock, err := respondent.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSocket{sock: sock}, nil
}
