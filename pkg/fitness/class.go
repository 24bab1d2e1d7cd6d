package fitness

// ClassType names the role family a process is configured for
type ClassType int

const (
	// UnsetClass means the process declared no class
	UnsetClass ClassType = iota
	// StorageClass marks a process intended to run storage servers
	StorageClass
	// TransactionClass marks a process intended to run transaction logs
	TransactionClass
	// ProxyClass marks a process intended to run commit proxies
	ProxyClass
	// ResolutionClass marks a process intended to run resolvers
	ResolutionClass
	// MasterClass marks a process intended to run the master
	MasterClass
	// TesterClass marks a process reserved for test workloads
	TesterClass
)

// String returns the string representation of a ClassType
func (t ClassType) String() string {
	switch t {
	case UnsetClass:
		return "unset"
	case StorageClass:
		return "storage"
	case TransactionClass:
		return "transaction"
	case ProxyClass:
		return "proxy"
	case ResolutionClass:
		return "resolution"
	case MasterClass:
		return "master"
	case TesterClass:
		return "tester"
	default:
		return "unknown"
	}
}

// ParseClassType converts a string to a ClassType
func ParseClassType(s string) ClassType {
	switch s {
	case "storage":
		return StorageClass
	case "transaction":
		return TransactionClass
	case "proxy":
		return ProxyClass
	case "resolution":
		return ResolutionClass
	case "master":
		return MasterClass
	case "tester":
		return TesterClass
	default:
		return UnsetClass
	}
}

// ClassSource names the authority that assigned a process class
type ClassSource int

const (
	// UnsetSource means no authority has assigned a class
	UnsetSource ClassSource = iota
	// AutoSource means the class was inferred automatically
	AutoSource
	// DBSource means the class came from the coordination database
	DBSource
	// CommandLineSource means the class was set on the worker's command line
	CommandLineSource
)

// String returns the string representation of a ClassSource
func (s ClassSource) String() string {
	switch s {
	case UnsetSource:
		return "unset"
	case AutoSource:
		return "auto"
	case DBSource:
		return "db"
	case CommandLineSource:
		return "command_line"
	default:
		return "unknown"
	}
}

// ParseClassSource converts a string to a ClassSource
func ParseClassSource(s string) ClassSource {
	switch s {
	case "auto":
		return AutoSource
	case "db":
		return DBSource
	case "command_line":
		return CommandLineSource
	default:
		return UnsetSource
	}
}

// ProcessClass pairs a class type with the source that assigned it.
// Source priority when resolving the effective class:
// CommandLine > DB > Auto > Unset.
type ProcessClass struct {
	Type   ClassType   `json:"type"`
	Source ClassSource `json:"source"`
}

// String returns "type/source"
func (p ProcessClass) String() string {
	return p.Type.String() + "/" + p.Source.String()
}

// ClusterRole is a role the cluster controller recruits workers into
type ClusterRole int

const (
	RoleStorage ClusterRole = iota
	RoleTLog
	RoleProxy
	RoleResolver
	RoleMaster
)

// String returns the string representation of a ClusterRole
func (r ClusterRole) String() string {
	switch r {
	case RoleStorage:
		return "storage"
	case RoleTLog:
		return "tlog"
	case RoleProxy:
		return "proxy"
	case RoleResolver:
		return "resolver"
	case RoleMaster:
		return "master"
	default:
		return "unknown"
	}
}

// Fitness ranks how well a process class fits a role, best first
type Fitness int

const (
	BestFit Fitness = iota
	GoodFit
	UnsetFit
	WorstFit
	// NeverAssign disqualifies the worker for the role entirely
	NeverAssign
)

// String returns the string representation of a Fitness
func (f Fitness) String() string {
	switch f {
	case BestFit:
		return "best"
	case GoodFit:
		return "good"
	case UnsetFit:
		return "unset"
	case WorstFit:
		return "worst"
	case NeverAssign:
		return "never_assign"
	default:
		return "unknown"
	}
}

// MachineClassFitness resolves the fitness of this process class for a role.
// Tester processes are never assigned database roles. A class matching the
// role is best; the transaction class is good for proxy, resolver and
// master, and the storage class is good for tlog; an unset class ranks
// between configured matches and configured mismatches.
func (p ProcessClass) MachineClassFitness(role ClusterRole) Fitness {
	if p.Type == TesterClass {
		return NeverAssign
	}

	switch role {
	case RoleStorage:
		switch p.Type {
		case StorageClass:
			return BestFit
		case UnsetClass:
			return UnsetFit
		default:
			return WorstFit
		}
	case RoleTLog:
		switch p.Type {
		case TransactionClass:
			return BestFit
		case StorageClass:
			return GoodFit
		case UnsetClass:
			return UnsetFit
		default:
			return WorstFit
		}
	case RoleProxy:
		switch p.Type {
		case ProxyClass:
			return BestFit
		case TransactionClass:
			return GoodFit
		case UnsetClass:
			return UnsetFit
		default:
			return WorstFit
		}
	case RoleResolver:
		switch p.Type {
		case ResolutionClass:
			return BestFit
		case TransactionClass:
			return GoodFit
		case UnsetClass:
			return UnsetFit
		default:
			return WorstFit
		}
	case RoleMaster:
		switch p.Type {
		case MasterClass:
			return BestFit
		case TransactionClass:
			return GoodFit
		case UnsetClass:
			return UnsetFit
		default:
			return WorstFit
		}
	default:
		return NeverAssign
	}
}
