package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/transport"
)

// TransportDialer resolves worker addresses into clients over the
// messaging layer. Each client owns one req socket.
type TransportDialer struct {
	factory transport.SocketFactory
	timeout time.Duration
}

// NewTransportDialer creates a dialer; timeout bounds each exchange when
// the caller's context carries no deadline
func NewTransportDialer(factory transport.SocketFactory, timeout time.Duration) *TransportDialer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TransportDialer{factory: factory, timeout: timeout}
}

// DialWorker connects to a worker's RPC address
func (d *TransportDialer) DialWorker(addr string) (WorkerClient, error) {
	sock, err := d.factory.NewReqSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return nil, err
	}
	return &transportWorkerClient{sock: sock, timeout: d.timeout}, nil
}

type transportWorkerClient struct {
	sock    transport.DialSocket
	timeout time.Duration
}

func (c *transportWorkerClient) exchange(ctx context.Context, msgType transport.MessageType, payload, out any) error {
	msg, err := transport.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	frame, err := transport.EncodeFrame(msg)
	if err != nil {
		return err
	}

	deadline := c.timeout
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	c.sock.SetSendDeadline(deadline)
	c.sock.SetRecvDeadline(deadline)

	if err := c.sock.Send(frame); err != nil {
		return err
	}
	data, err := c.sock.Recv()
	if err != nil {
		return err
	}

	reply, err := transport.DecodeFrame(data)
	if err != nil {
		return err
	}
	if reply.Type == transport.MsgError {
		var e struct {
			Error string `json:"error"`
		}
		if err := reply.Decode(&e); err != nil {
			return err
		}
		return errors.New(e.Error)
	}
	if out != nil {
		return reply.Decode(out)
	}
	return nil
}

func (c *transportWorkerClient) RecruitMaster(ctx context.Context, req RecruitMasterRequest) (MasterInterface, error) {
	var mi MasterInterface
	if err := c.exchange(ctx, transport.MsgRecruitMaster, req, &mi); err != nil {
		return MasterInterface{}, fmt.Errorf("recruit master: %w", err)
	}
	return mi, nil
}

func (c *transportWorkerClient) WaitFailure(ctx context.Context) error {
	return c.exchange(ctx, transport.MsgWaitFailure, struct{}{}, nil)
}

func (c *transportWorkerClient) CoordinationPing(msg CoordinationPingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	c.exchange(ctx, transport.MsgCoordinationPing, msg, nil)
}

func (c *transportWorkerClient) Close() error {
	return c.sock.Close()
}
