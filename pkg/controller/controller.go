package controller

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-txdb/pkg/coordkv"
	"github.com/dd0wney/cluso-txdb/pkg/failmon"
	"github.com/dd0wney/cluso-txdb/pkg/fitness"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
	"github.com/dd0wney/cluso-txdb/pkg/metrics"
)

// workerInfo is the registry entry for one worker. The controller
// exclusively owns it; the availability watcher dies with the entry.
type workerInfo struct {
	cancelWatcher context.CancelFunc
	reply         *voidPromise
	gen           uint64
	reboots       int
	interf        WorkerInterface
	initialClass  fitness.ProcessClass
	processClass  fitness.ProcessClass
}

// Dependencies are the controller's injected collaborators. Logger,
// Metrics, Clock and Rand may be nil/zero; the others are required.
type Dependencies struct {
	Logger        logging.Logger
	Metrics       *metrics.Registry
	Dialer        Dialer
	Store         coordkv.Store
	StatusFetcher StatusFetcher
	Clock         func() time.Time
	Rand          *rand.Rand
	// Broadcaster, when set, delivers coordination pings to all workers
	// at once (e.g. over a surveyor socket) instead of dialing each one
	Broadcaster func(CoordinationPingMessage)
	// LeaderFail fires when this controller loses leadership; the
	// controller then ends its role cleanly so re-election can proceed
	LeaderFail <-chan struct{}
}

// ClusterController coordinates the worker population of one cluster
type ClusterController struct {
	cfg           Config
	id            string
	logger        logging.Logger
	metrics       *metrics.Registry
	failmon       *failmon.Server
	dialer        Dialer
	store         coordkv.Store
	statusFetcher StatusFetcher
	broadcaster   func(CoordinationPingMessage)
	leaderFail    <-chan struct{}
	clock         func() time.Time
	startTime     time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu                 sync.Mutex
	idWorker           map[string]*workerInfo
	idClass            map[string]fitness.ProcessClass
	lastProcessClasses []coordkv.KeyValue
	gotProcessClasses  bool
	masterProcessID    string
	coordinationStep   uint64

	outstandingRecruitment []*outstandingRecruitment
	outstandingStorage     []*outstandingStorage
	betterMasterChecking   bool

	db         *dbInfo
	workerList *workerListJournal
	statusCh   chan *statusRequest

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fatalMu sync.Mutex
	fatal   error
}

// New creates a cluster controller. localAddress is this controller's own
// address, exempt from failure detection.
func New(cfg Config, localAddress string, deps Dependencies) (*ClusterController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	cc := &ClusterController{
		cfg:           cfg,
		id:            id,
		logger:        logger.With(logging.Component("cluster-controller")),
		metrics:       deps.Metrics,
		dialer:        deps.Dialer,
		store:         deps.Store,
		statusFetcher: deps.StatusFetcher,
		broadcaster:   deps.Broadcaster,
		leaderFail:    deps.LeaderFail,
		clock:         clock,
		startTime:     clock(),
		rng:           rng,
		idWorker:      make(map[string]*workerInfo),
		idClass:       make(map[string]fitness.ProcessClass),
		db:            newDBInfo(id),
		statusCh:      make(chan *statusRequest),
		ctx:           ctx,
		cancel:        cancel,
	}
	cc.failmon = failmon.NewServer(cfg.FailureDetector, localAddress, logger, deps.Metrics, clock)
	cc.workerList = newWorkerListJournal(cc.store, cc.logger)
	return cc, nil
}

// ID returns this controller's id
func (cc *ClusterController) ID() string { return cc.id }

// SetBroadcaster installs a coordination-ping broadcaster; call before
// Start
func (cc *ClusterController) SetBroadcaster(fn func(CoordinationPingMessage)) {
	cc.broadcaster = fn
}

// FailureDetector exposes the embedded failure detection server
func (cc *ClusterController) FailureDetector() *failmon.Server { return cc.failmon }

// ServerInfo returns the current server topology snapshot
func (cc *ClusterController) ServerInfo() ServerDBInfo { return cc.db.serverInfo.Get() }

// ClientInfo returns the current client topology snapshot
func (cc *ClusterController) ClientInfo() ClientDBInfo { return cc.db.clientInfo.Get() }

// Start launches the controller's background tasks
func (cc *ClusterController) Start() {
	cc.failmon.Start()

	if cc.leaderFail != nil {
		cc.spawn(func() {
			select {
			case <-cc.ctx.Done():
			case <-cc.leaderFail:
				// No longer the leader; end the role without error so
				// re-election proceeds
				cc.logger.Info("leadership lost, ending role",
					logging.String("id", cc.id))
				cc.cancel()
			}
		})
	}

	cc.spawn(func() { cc.watchDatabase(cc.ctx) })
	cc.spawn(func() { cc.statusServer(cc.ctx) })
	cc.spawn(func() { cc.coordinationPingLoop(cc.ctx) })
	if cc.store != nil {
		cc.spawn(func() { cc.workerList.run(cc.ctx) })
		cc.spawn(func() { cc.monitorProcessClasses(cc.ctx) })
		cc.spawn(func() { cc.monitorClientTxnInfo(cc.ctx) })
	} else {
		// Without a coordination store there are no class overrides to
		// wait for; storage recruitment proceeds immediately.
		cc.mu.Lock()
		cc.gotProcessClasses = true
		cc.mu.Unlock()
	}

	cc.logger.Info("cluster controller started", logging.String("id", cc.id))
}

// Stop cancels every child task and abandons pending replies. Worker
// registrations complete with Never; long-poll clients observe their
// timeout.
func (cc *ClusterController) Stop() {
	cc.cancel()
	cc.failmon.Stop()
	cc.wg.Wait()
	cc.logger.Info("cluster controller stopped", logging.String("id", cc.id))
}

// Err returns the fatal error that ended the controller's role, if any
func (cc *ClusterController) Err() error {
	cc.fatalMu.Lock()
	defer cc.fatalMu.Unlock()
	return cc.fatal
}

// endRole records a fatal error and cancels every child task. The outer
// election loop may then re-elect.
func (cc *ClusterController) endRole(err error) {
	cc.fatalMu.Lock()
	if cc.fatal == nil {
		cc.fatal = err
	}
	cc.fatalMu.Unlock()
	cc.logger.Error("cluster controller ending role", logging.Error(err))
	cc.cancel()
}

func (cc *ClusterController) spawn(fn func()) {
	cc.wg.Add(1)
	go func() {
		defer cc.wg.Done()
		fn()
	}()
}

// random01 draws from the injected random source
func (cc *ClusterController) random01() float64 {
	cc.rngMu.Lock()
	defer cc.rngMu.Unlock()
	return cc.rng.Float64()
}

// shuffle permutes a slice with the injected random source
func (cc *ClusterController) shuffle(n int, swap func(i, j int)) {
	cc.rngMu.Lock()
	defer cc.rngMu.Unlock()
	cc.rng.Shuffle(n, swap)
}

// sleep waits for d or controller shutdown
func (cc *ClusterController) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// coordinationPingLoop broadcasts a coordination ping to every registered
// worker on a fixed cadence
func (cc *ClusterController) coordinationPingLoop(ctx context.Context) {
	ticker := time.NewTicker(cc.cfg.WorkerCoordinationPingDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cc.mu.Lock()
		step := cc.coordinationStep
		cc.coordinationStep++
		addrs := make([]string, 0, len(cc.idWorker))
		for _, info := range cc.idWorker {
			addrs = append(addrs, info.interf.Address)
		}
		cc.mu.Unlock()

		msg := CoordinationPingMessage{ClusterControllerID: cc.id, TimeStep: step}
		if cc.broadcaster != nil {
			cc.broadcaster(msg)
			cc.logger.Debug("coordination ping broadcast",
				logging.Uint64("time_step", step))
			continue
		}
		for _, addr := range addrs {
			client, err := cc.dialer.DialWorker(addr)
			if err != nil {
				cc.logger.Debug("coordination ping dial failed",
					logging.Address(addr), logging.Error(err))
				continue
			}
			client.CoordinationPing(msg)
			client.Close()
		}
		cc.logger.Debug("coordination ping sent",
			logging.Uint64("time_step", step), logging.Count(len(addrs)))
	}
}
