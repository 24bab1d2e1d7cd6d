package controller

import (
	"context"
	"sync"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
	"github.com/dd0wney/cluso-txdb/pkg/policy"
)

// WorkerInterface identifies one worker process and how to reach it.
// ID is fresh per process start; the stable identity is the locality's
// process id.
type WorkerInterface struct {
	ID       string           `json:"id"`
	Locality fitness.Locality `json:"locality"`
	// Address is the worker's RPC address
	Address string `json:"address"`
	// StorageAddress is the endpoint whose reachability the failure
	// monitor tracks for this worker
	StorageAddress string `json:"storage_address"`
}

// ProcessID returns the worker's stable identity
func (w WorkerInterface) ProcessID() string { return w.Locality.ProcessID }

// InterfaceRef is a reference to a recruited role instance on a worker
type InterfaceRef struct {
	ID       string           `json:"id"`
	Locality fitness.Locality `json:"locality"`
	Address  string           `json:"address"`
}

// MasterInterface identifies a recruited master incarnation
type MasterInterface struct {
	ID       string           `json:"id"`
	Locality fitness.Locality `json:"locality"`
	Address  string           `json:"address"`
}

// LogSystemConfig describes the current transaction-log system
type LogSystemConfig struct {
	TLogs []InterfaceRef `json:"tlogs"`
}

// RecoveryState tracks how far the master has progressed through recovery
type RecoveryState int

const (
	RecoveryUninitialized RecoveryState = iota
	RecoveryReadingCoordinatedState
	RecoveryLockingCoordinatedState
	RecoveryRecruiting
	RecoveryRecoveryTransaction
	RecoveryWritingCoordinatedState
	RecoveryFullyRecovered
)

// ServerDBInfo is the controller-authored topology view for servers.
// Values are immutable snapshots; every observable change gets a fresh ID.
type ServerDBInfo struct {
	ID                       string          `json:"id"`
	ClusterControllerID      string          `json:"cluster_controller_id"`
	Master                   MasterInterface `json:"master"`
	MasterLifetime           uint64          `json:"master_lifetime"`
	LogSystemConfig          LogSystemConfig `json:"log_system_config"`
	Resolvers                []InterfaceRef  `json:"resolvers"`
	RecoveryState            RecoveryState   `json:"recovery_state"`
	RecoveryCount            uint64          `json:"recovery_count"`
	PriorCommittedLogServers []InterfaceRef  `json:"prior_committed_log_servers"`
	Client                   ClientDBInfo    `json:"client"`
}

// ClientDBInfo is the controller-authored topology view for clients
type ClientDBInfo struct {
	ID                      string         `json:"id"`
	Proxies                 []InterfaceRef `json:"proxies"`
	ClientTxnInfoSampleRate float64        `json:"client_txn_info_sample_rate"`
	ClientTxnInfoSizeLimit  int64          `json:"client_txn_info_size_limit"`
}

// AcrossSpec is the serializable form of one "across N values of key"
// replication requirement
type AcrossSpec struct {
	Count int    `json:"count"`
	Key   string `json:"key"`
}

// DatabaseConfiguration carries the recruitment shape requested by the
// master
type DatabaseConfiguration struct {
	TLogReplicationFactor int          `json:"tlog_replication_factor"`
	DesiredLogs           int          `json:"desired_logs"`
	DesiredProxies        int          `json:"desired_proxies"`
	DesiredResolvers      int          `json:"desired_resolvers"`
	TLogPolicy            []AcrossSpec `json:"tlog_policy"`
	ExcludedAddresses     []string     `json:"excluded_addresses,omitempty"`
}

// GetDesiredLogs returns the desired tlog count, at least the replication
// factor
func (c DatabaseConfiguration) GetDesiredLogs() int {
	if c.DesiredLogs < c.TLogReplicationFactor {
		return c.TLogReplicationFactor
	}
	return c.DesiredLogs
}

// GetDesiredProxies returns the desired proxy count, at least one
func (c DatabaseConfiguration) GetDesiredProxies() int {
	if c.DesiredProxies < 1 {
		return 1
	}
	return c.DesiredProxies
}

// GetDesiredResolvers returns the desired resolver count, at least one
func (c DatabaseConfiguration) GetDesiredResolvers() int {
	if c.DesiredResolvers < 1 {
		return 1
	}
	return c.DesiredResolvers
}

// Policy materializes the tlog replication policy
func (c DatabaseConfiguration) Policy() policy.Policy {
	if len(c.TLogPolicy) == 0 {
		return policy.NewAcross(c.TLogReplicationFactor, fitness.KeyZoneID)
	}
	if len(c.TLogPolicy) == 1 {
		spec := c.TLogPolicy[0]
		return policy.NewAcross(spec.Count, spec.Key)
	}
	policies := make([]policy.Policy, 0, len(c.TLogPolicy))
	for _, spec := range c.TLogPolicy {
		policies = append(policies, policy.NewAcross(spec.Count, spec.Key))
	}
	return policy.And{Policies: policies}
}

// IsExcludedServer reports whether an address is operator-excluded
func (c DatabaseConfiguration) IsExcludedServer(addr string) bool {
	for _, a := range c.ExcludedAddresses {
		if a == addr {
			return true
		}
	}
	return false
}

// WorkerDetails pairs a worker interface with its effective process class
type WorkerDetails struct {
	Interf       WorkerInterface      `json:"interf"`
	ProcessClass fitness.ProcessClass `json:"process_class"`
}

// RegisterWorkerRequest announces a worker to the controller
type RegisterWorkerRequest struct {
	Worker       WorkerInterface      `json:"worker"`
	ProcessClass fitness.ProcessClass `json:"process_class"`
	Generation   uint64               `json:"generation"`
}

// RecruitFromConfigurationRequest asks for a full role placement
type RecruitFromConfigurationRequest struct {
	Configuration DatabaseConfiguration `json:"configuration"`
}

// RecruitFromConfigurationReply is the chosen placement
type RecruitFromConfigurationReply struct {
	TLogs     []WorkerInterface `json:"tlogs"`
	Proxies   []WorkerInterface `json:"proxies"`
	Resolvers []WorkerInterface `json:"resolvers"`
}

// RecruitStorageRequest asks for one storage worker
type RecruitStorageRequest struct {
	ExcludeMachines     []string `json:"exclude_machines,omitempty"`
	ExcludeDCs          []string `json:"exclude_dcs,omitempty"`
	ExcludeAddresses    []string `json:"exclude_addresses,omitempty"`
	CriticalRecruitment bool     `json:"critical_recruitment"`
}

// RecruitStorageReply is the chosen storage worker
type RecruitStorageReply struct {
	Worker       WorkerInterface      `json:"worker"`
	ProcessClass fitness.ProcessClass `json:"process_class"`
}

// RecruitMasterRequest is sent to a candidate worker
type RecruitMasterRequest struct {
	Lifetime uint64 `json:"lifetime"`
}

// RegisterMasterRequest is the master's periodic registration
type RegisterMasterRequest struct {
	ID                       string                `json:"id"`
	DBName                   string                `json:"db_name"`
	Master                   MasterInterface       `json:"master"`
	LogSystemConfig          LogSystemConfig       `json:"log_system_config"`
	Resolvers                []InterfaceRef        `json:"resolvers"`
	Proxies                  []InterfaceRef        `json:"proxies"`
	RecoveryState            RecoveryState         `json:"recovery_state"`
	RecoveryCount            uint64                `json:"recovery_count"`
	RegistrationCount        int64                 `json:"registration_count"`
	Configuration            DatabaseConfiguration `json:"configuration"`
	PriorCommittedLogServers []InterfaceRef        `json:"prior_committed_log_servers"`
}

// GetWorkersRequest flags
const FlagTesterClass = 1

// GetWorkersRequest asks for the registered worker population
type GetWorkersRequest struct {
	Flags int `json:"flags"`
}

// OpenDatabaseRequest long-polls the client topology view
type OpenDatabaseRequest struct {
	DBName            string   `json:"db_name"`
	KnownClientInfoID string   `json:"known_client_info_id"`
	Issues            string   `json:"issues,omitempty"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	CallerAddress     string   `json:"caller_address,omitempty"`
}

// GetServerDBInfoRequest long-polls the server topology view
type GetServerDBInfoRequest struct {
	KnownServerInfoID string   `json:"known_server_info_id"`
	Issues            string   `json:"issues,omitempty"`
	IncompatiblePeers []string `json:"incompatible_peers,omitempty"`
	CallerAddress     string   `json:"caller_address,omitempty"`
}

// RegisterWorkerReply closes the worker's registration long-poll. Rejoin
// means the controller dropped the registration and the worker should
// register again.
type RegisterWorkerReply struct {
	Rejoin bool `json:"rejoin"`
}

// CoordinationPingMessage is broadcast to every registered worker
type CoordinationPingMessage struct {
	ClusterControllerID string `json:"cluster_controller_id"`
	TimeStep            uint64 `json:"time_step"`
}

// StatusReply is the aggregated cluster status; the aggregation itself is
// an external collaborator, so the payload stays opaque here
type StatusReply struct {
	Data []byte `json:"data"`
}

// StatusFetcher aggregates cluster status once per batch
type StatusFetcher func(ctx context.Context, workers []WorkerDetails, clientIssues, workerIssues map[string]string, incompatiblePeers []string) (StatusReply, error)

// WorkerClient performs outbound calls to one worker process
type WorkerClient interface {
	// RecruitMaster asks the worker to start a master with the given
	// lifetime
	RecruitMaster(ctx context.Context, req RecruitMasterRequest) (MasterInterface, error)
	// WaitFailure pings the worker's failure endpoint; nil means the
	// worker answered
	WaitFailure(ctx context.Context) error
	// CoordinationPing is fire-and-forget
	CoordinationPing(msg CoordinationPingMessage)
	// Close releases the connection
	Close() error
}

// Dialer resolves a worker address into a client
type Dialer interface {
	DialWorker(addr string) (WorkerClient, error)
}

// voidPromise resolves at most once. Closing the channel is the "stop
// serving, rejoin" signal; abandoning the promise is Never.
type voidPromise struct {
	ch   chan struct{}
	once sync.Once
}

func newVoidPromise() *voidPromise {
	return &voidPromise{ch: make(chan struct{})}
}

// send resolves the promise with Void
func (p *voidPromise) send() {
	p.once.Do(func() { close(p.ch) })
}

// Done observes resolution
func (p *voidPromise) Done() <-chan struct{} {
	return p.ch
}
