package coordkv

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

// System key layout. The \xff prefix marks the system keyspace.
const (
	processClassPrefix    = "\xff/conf/process_class/"
	processClassOldPrefix = "\xff/conf/process_classes/"

	// ProcessClassVersionKey marks the schema version of the
	// process-class rows; its absence triggers migration
	ProcessClassVersionKey = "\xff/conf/process_class_version"
	// ProcessClassVersionValue is the current schema version
	ProcessClassVersionValue = "1"
	// ProcessClassChangeKey is bumped by operators to trigger a re-read
	ProcessClassChangeKey = "\xff/conf/process_class_change"

	workerListPrefix = "\xff/worker_list/"

	clientInfoPrefix = "\xff/client_info/"
	// ClientTxnSampleRateKey holds a little-endian float64 sample rate
	ClientTxnSampleRateKey = clientInfoPrefix + "client_txn_sample_rate/"
	// ClientTxnSizeLimitKey holds a little-endian int64 size limit
	ClientTxnSizeLimitKey = clientInfoPrefix + "client_txn_size_limit/"
)

var errBadKey = errors.New("key outside expected range")

// ProcessClassKeys returns the prefix of the process-class range
func ProcessClassKeys() string { return processClassPrefix }

// ProcessClassOldKeys returns the prefix of the pre-migration range
func ProcessClassOldKeys() string { return processClassOldPrefix }

// WorkerListKeys returns the prefix of the worker-list range
func WorkerListKeys() string { return workerListPrefix }

// ProcessClassKeyFor returns the row key for a process id
func ProcessClassKeyFor(processID string) string {
	return processClassPrefix + processID
}

// DecodeProcessClassKey extracts the process id from a row key
func DecodeProcessClassKey(key string) (string, error) {
	if !strings.HasPrefix(key, processClassPrefix) {
		return "", fmt.Errorf("decode process class key %q: %w", key, errBadKey)
	}
	return strings.TrimPrefix(key, processClassPrefix), nil
}

// DecodeProcessClassKeyOld extracts the process id from a pre-migration key
func DecodeProcessClassKeyOld(key string) (string, error) {
	if !strings.HasPrefix(key, processClassOldPrefix) {
		return "", fmt.Errorf("decode old process class key %q: %w", key, errBadKey)
	}
	return strings.TrimPrefix(key, processClassOldPrefix), nil
}

// processClassRow is the stored form of a class override
type processClassRow struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// EncodeProcessClassValue encodes a (type, source) pair
func EncodeProcessClassValue(pc fitness.ProcessClass) []byte {
	b, _ := json.Marshal(processClassRow{
		Type:   pc.Type.String(),
		Source: pc.Source.String(),
	})
	return b
}

// DecodeProcessClassValue decodes a (type, source) pair
func DecodeProcessClassValue(b []byte) (fitness.ProcessClass, error) {
	var row processClassRow
	if err := json.Unmarshal(b, &row); err != nil {
		return fitness.ProcessClass{}, fmt.Errorf("decode process class value: %w", err)
	}
	return fitness.ProcessClass{
		Type:   fitness.ParseClassType(row.Type),
		Source: fitness.ParseClassSource(row.Source),
	}, nil
}

// ProcessData is the published record of one known worker process
type ProcessData struct {
	Locality fitness.Locality     `json:"locality"`
	Class    fitness.ProcessClass `json:"class"`
	Address  string               `json:"address"`
}

// WorkerListKeyFor returns the worker-list row key for a process id
func WorkerListKeyFor(processID string) string {
	return workerListPrefix + processID
}

// EncodeWorkerListValue encodes a worker-list row, snappy-compressed
func EncodeWorkerListValue(data ProcessData) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode worker list value: %w", err)
	}
	return snappy.Encode(nil, b), nil
}

// DecodeWorkerListValue decodes a worker-list row
func DecodeWorkerListValue(b []byte) (ProcessData, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return ProcessData{}, fmt.Errorf("decode worker list value: %w", err)
	}
	var data ProcessData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ProcessData{}, fmt.Errorf("decode worker list value: %w", err)
	}
	return data, nil
}

// EncodeFloat64 encodes a little-endian float64 value
func EncodeFloat64(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

// DecodeFloat64 decodes a little-endian float64 value
func DecodeFloat64(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("decode float64: expected 8 bytes, got %d", len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// EncodeInt64 encodes a little-endian int64 value
func EncodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeInt64 decodes a little-endian int64 value
func DecodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("decode int64: expected 8 bytes, got %d", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}
