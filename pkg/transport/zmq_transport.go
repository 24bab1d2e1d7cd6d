//go:build zmq
// +build zmq

package transport

import (
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// zmqSocket wraps a zmq4 socket to implement our Socket interface.
type zmqSocket struct {
	sock *zmq.Socket
}

func (s *zmqSocket) Send(data []byte) error {
	_, err := s.sock.SendBytes(data, 0)
	return err
}

func (s *zmqSocket) Recv() ([]byte, error) {
	return s.sock.RecvBytes(0)
}

func (s *zmqSocket) Close() error {
	return s.sock.Close()
}

func (s *zmqSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetRcvtimeo(d)
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetSndtimeo(d)
}

func (s *zmqSocket) Listen(addr string) error {
	return s.sock.Bind(addr)
}

func (s *zmqSocket) Dial(addr string) error {
	return s.sock.Connect(addr)
}

// zmqRepSocket serves contexts by serializing full exchanges on the one
// underlying REP socket; a context holds the socket from Recv until Send.
type zmqRepSocket struct {
	zmqSocket
	exchange sync.Mutex
}

func (s *zmqRepSocket) OpenContext() (Context, error) {
	return &zmqRepContext{sock: s}, nil
}

type zmqRepContext struct {
	sock *zmqRepSocket
}

func (c *zmqRepContext) Recv() ([]byte, error) {
	c.sock.exchange.Lock()
	data, err := c.sock.Recv()
	if err != nil {
		c.sock.exchange.Unlock()
	}
	return data, err
}

func (c *zmqRepContext) Send(data []byte) error {
	defer c.sock.exchange.Unlock()
	return c.sock.Send(data)
}

func (c *zmqRepContext) Close() error { return nil }

// zmqSurveySocket emulates the surveyor pattern over PUB. Coordination
// pings are one-way, so the missing response path is not observable from
// the controller.
type zmqSurveySocket struct {
	zmqSocket
}

func (s *zmqSurveySocket) SetSurveyTime(d time.Duration) error {
	return nil
}

// ZMQFactory creates ZeroMQ sockets (zmq build tag).
type ZMQFactory struct{}

// NewFactory returns the socket factory for this build.
func NewFactory() SocketFactory {
	return &ZMQFactory{}
}

func (f *ZMQFactory) NewRepSocket() (RepSocket, error) {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return nil, err
	}
	return &zmqRepSocket{zmqSocket: zmqSocket{sock: sock}}, nil
}

func (f *ZMQFactory) NewReqSocket() (DialSocket, error) {
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (f *ZMQFactory) NewSurveyorSocket() (SurveySocket, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	return &zmqSurveySocket{zmqSocket{sock: sock}}, nil
}

func (f *ZMQFactory) NewRespondentSocket() (DialSocket, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	if err := sock.SetSubscribe(""); err != nil {
		sock.Close()
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}
