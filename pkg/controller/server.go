package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/failmon"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
	"github.com/dd0wney/cluso-txdb/pkg/transport"
)

var errUnknownMessage = errors.New("unknown message type")

// serverContexts is how many request exchanges are served concurrently;
// long-polls occupy a context for their whole wait.
const serverContexts = 64

// Server exposes the controller's RPC surface over the transport layer
// and broadcasts coordination pings on the surveyor socket.
type Server struct {
	cc      *ClusterController
	factory transport.SocketFactory
	cfg     transport.Config
	logger  logging.Logger

	rep    transport.RepSocket
	survey transport.SurveySocket

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates the RPC server for a controller
func NewServer(cc *ClusterController, factory transport.SocketFactory, cfg transport.Config, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{
		cc:      cc,
		factory: factory,
		cfg:     cfg,
		logger:  logger.With(logging.Component("cc-server")),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the sockets and begins serving
func (s *Server) Start() error {
	rep, err := s.factory.NewRepSocket()
	if err != nil {
		return err
	}
	if err := rep.Listen(s.cfg.RequestAddr); err != nil {
		rep.Close()
		return err
	}
	s.rep = rep

	survey, err := s.factory.NewSurveyorSocket()
	if err != nil {
		rep.Close()
		return err
	}
	if err := survey.Listen(s.cfg.CoordinationAddr); err != nil {
		rep.Close()
		survey.Close()
		return err
	}
	survey.SetSurveyTime(s.cc.cfg.WorkerCoordinationPingDelay / 2)
	s.survey = survey

	for i := 0; i < serverContexts; i++ {
		sctx, err := rep.OpenContext()
		if err != nil {
			s.Stop()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveContext(sctx)
		}()
	}

	s.logger.Info("rpc server listening",
		logging.Address(s.cfg.RequestAddr),
		logging.Address(s.cfg.CoordinationAddr))
	return nil
}

// Stop closes the sockets; in-flight exchanges fail and their contexts
// exit
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.rep != nil {
		s.rep.Close()
	}
	if s.survey != nil {
		s.survey.Close()
	}
	s.wg.Wait()
}

// BroadcastCoordinationPing sends a ping to every connected worker over
// the surveyor socket
func (s *Server) BroadcastCoordinationPing(msg CoordinationPingMessage) {
	m, err := transport.NewMessage(transport.MsgCoordinationPing, msg)
	if err != nil {
		return
	}
	frame, err := transport.EncodeFrame(m)
	if err != nil {
		return
	}
	if err := s.survey.Send(frame); err != nil {
		s.logger.Debug("coordination ping broadcast failed", logging.Error(err))
	}
}

func (s *Server) serveContext(sctx transport.Context) {
	defer sctx.Close()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		data, err := sctx.Recv()
		if err != nil {
			return
		}

		reply := s.dispatch(data)
		frame, err := transport.EncodeFrame(reply)
		if err != nil {
			s.logger.Error("reply encode failed", logging.Error(err))
			continue
		}
		if err := sctx.Send(frame); err != nil {
			return
		}
	}
}

type errorReply struct {
	Error string `json:"error"`
}

func replyMessage(payload any) *transport.Message {
	m, err := transport.NewMessage(transport.MsgReply, payload)
	if err != nil {
		return errorMessage(err)
	}
	return m
}

func errorMessage(err error) *transport.Message {
	m, encErr := transport.NewMessage(transport.MsgError, errorReply{Error: err.Error()})
	if encErr != nil {
		return &transport.Message{Type: transport.MsgError}
	}
	return m
}

// dispatch decodes one request and runs the matching controller
// operation. Every request gets exactly one reply.
func (s *Server) dispatch(data []byte) *transport.Message {
	msg, err := transport.DecodeFrame(data)
	if err != nil {
		return errorMessage(err)
	}

	ctx := s.cc.ctx

	switch msg.Type {
	case transport.MsgPing:
		s.cc.Ping()
		return replyMessage(struct{}{})

	case transport.MsgRegisterWorker:
		var req RegisterWorkerRequest
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		done := s.cc.RegisterWorker(req)
		if done == nil {
			// Stale retransmission; the worker's live registration stands
			return replyMessage(RegisterWorkerReply{})
		}
		// Hold the reply as the worker's "keep serving" long-poll; a
		// closed channel tells the worker to rejoin. The jittered
		// timeout bounds how long a context is pinned; workers re-poll.
		timer := time.NewTimer(time.Duration(float64(s.cc.cfg.BroadcastTimeout) * (0.9 + 0.2*s.cc.random01())))
		defer timer.Stop()
		select {
		case <-done:
			return replyMessage(RegisterWorkerReply{Rejoin: true})
		case <-timer.C:
			return replyMessage(RegisterWorkerReply{})
		case <-s.stopCh:
			return replyMessage(RegisterWorkerReply{})
		}

	case transport.MsgRecruitFromConfiguration:
		var req RecruitFromConfigurationRequest
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		reply, err := s.cc.RecruitFromConfiguration(ctx, req)
		if err != nil {
			return errorMessage(err)
		}
		return replyMessage(reply)

	case transport.MsgRecruitStorage:
		var req RecruitStorageRequest
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		reply, err := s.cc.RecruitStorage(ctx, req)
		if err != nil {
			return errorMessage(err)
		}
		return replyMessage(reply)

	case transport.MsgRegisterMaster:
		var req RegisterMasterRequest
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		if err := s.cc.RegisterMaster(req); err != nil {
			return errorMessage(err)
		}
		return replyMessage(struct{}{})

	case transport.MsgGetWorkers:
		var req GetWorkersRequest
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		return replyMessage(s.cc.GetWorkers(req))

	case transport.MsgGetClientWorkers:
		return replyMessage(s.cc.GetClientWorkers())

	case transport.MsgOpenDatabase:
		var req OpenDatabaseRequest
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		return replyMessage(s.cc.OpenDatabase(ctx, req, req.CallerAddress))

	case transport.MsgGetServerDBInfo:
		var req GetServerDBInfoRequest
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		return replyMessage(s.cc.GetServerDBInfo(ctx, req, req.CallerAddress))

	case transport.MsgFailureMonitoring:
		var req failmon.Request
		if err := msg.Decode(&req); err != nil {
			return errorMessage(err)
		}
		reply, err := s.cc.failmon.HandleRequest(req)
		if err != nil {
			return errorMessage(err)
		}
		return replyMessage(reply)

	case transport.MsgStatus:
		reply, err := s.cc.Status(ctx)
		if err != nil {
			return errorMessage(err)
		}
		return replyMessage(reply)

	default:
		return errorMessage(errUnknownMessage)
	}
}
