// Package audit records session and scroll operations in an append-only
// JSONL log. Every record carries an HMAC over its content and the HMAC
// of the previous record, so truncation, reordering, and edits are all
// detectable with the chain key.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Operation names recorded in the log.
const (
	OpVaultInit         = "vault.init"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"
	OpVaultReset        = "vault.reset"

	OpScrollRead  = "scroll.read"
	OpScrollWrite = "scroll.write"
	OpScrollList  = "scroll.list"
	OpScrollWatch = "scroll.watch"
	OpScrollPatch = "scroll.patch"

	OpAnchorCreate  = "anchor.create"
	OpAnchorRestore = "anchor.restore"

	OpExportSeal   = "export.seal"
	OpExportUnseal = "export.unseal"
)

// Sources identify the caller surface.
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Results of an operation.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// ErrNoChainKey indicates the logger was used before SetChainKey.
var ErrNoChainKey = errors.New("audit: chain key not set")

// genesisHash seeds the chain before the first record.
const genesisHash = "genesis"

// Event is one audit record. Scroll paths are never stored in the clear;
// Key holds an HMAC of the path under the chain key.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // ULID, time sortable
	Timestamp string `json:"ts"` // RFC 3339 nanoseconds, UTC

	Operation string `json:"op"`
	Key       string `json:"key,omitempty"` // HMAC of the scroll path
	Source    string `json:"source"`
	SessionID string `json:"session_id"`

	Result string `json:"result"`
	Detail string `json:"detail,omitempty"` // error text or denial reason

	Chain Chain `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHMAC string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// chainState is persisted between runs so the chain survives restarts.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHMAC string `json:"prev"`
}

// Logger appends HMAC-chained records to monthly JSONL files under a
// directory. Safe for concurrent use.
type Logger struct {
	path      string
	sessionID string
	now       func() time.Time

	mu       sync.Mutex
	chainKey []byte
	sequence int64
	prevHMAC string
}

// NewLogger builds a logger writing under dir. It stays inert until
// SetChainKey provides the key, so a locked vault produces no records.
func NewLogger(dir string) *Logger {
	return &Logger{
		path:      dir,
		sessionID: ulid.Make().String(),
		now:       time.Now,
		prevHMAC:  genesisHash,
	}
}

// SetChainKey installs the HMAC key and resumes the persisted chain
// position. The key should come from the session's audit subkey; the
// logger keeps its own copy.
func (l *Logger) SetChainKey(key []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.chainKey = append([]byte(nil), key...)
	if err := l.loadState(); err != nil {
		// First run or missing meta file, start a fresh chain.
		l.sequence = 0
		l.prevHMAC = genesisHash
	}
	return nil
}

// Log appends one record. keyPath may be empty for vault-level events.
func (l *Logger) Log(op, source, result, keyPath, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.chainKey == nil {
		return ErrNoChainKey
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	now := l.now().UTC()
	ev := Event{
		Version:   1,
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
		Detail:    detail,
	}
	if keyPath != "" {
		ev.Key = l.hmacHex([]byte(keyPath))
	}

	l.sequence++
	ev.Chain.Sequence = l.sequence
	ev.Chain.PrevHMAC = l.prevHMAC
	ev.Chain.HMAC = l.hmacHex(recordData(&ev))
	l.prevHMAC = ev.Chain.HMAC

	if err := l.appendEvent(&ev); err != nil {
		return err
	}
	return l.saveState()
}

// Success records a successful operation.
func (l *Logger) Success(op, source, keyPath string) error {
	return l.Log(op, source, ResultSuccess, keyPath, "")
}

// Failure records a failed operation with its error text.
func (l *Logger) Failure(op, source, keyPath string, opErr error) error {
	detail := ""
	if opErr != nil {
		detail = opErr.Error()
	}
	return l.Log(op, source, ResultError, keyPath, detail)
}

// Denied records a refused operation with the reason.
func (l *Logger) Denied(op, source, keyPath, reason string) error {
	return l.Log(op, source, ResultDenied, keyPath, reason)
}

// Path returns the log directory.
func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) hmacHex(data []byte) string {
	mac := hmac.New(sha256.New, l.chainKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData is the canonical byte form covered by a record's HMAC.
// Every field except the HMAC itself participates.
func recordData(ev *Event) []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		ev.Version, ev.ID, ev.Timestamp, ev.Operation, ev.Key,
		ev.Source, ev.SessionID, ev.Result, ev.Detail,
		ev.Chain.Sequence, ev.Chain.PrevHMAC))
}

func (l *Logger) appendEvent(ev *Event) error {
	name := l.now().UTC().Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return nil
}

func (l *Logger) loadState() error {
	data, err := os.ReadFile(filepath.Join(l.path, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHMAC = state.PrevHMAC
	return nil
}

func (l *Logger) saveState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHMAC: l.prevHMAC})
	if err != nil {
		return fmt.Errorf("audit: encode chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, "audit.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: save chain state: %w", err)
	}
	return nil
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify walks every log file in chronological order and checks the
// sequence numbers, the chain links, and each record's HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.chainKey == nil {
		return nil, ErrNoChainKey
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesisHash
	var expectedSeq int64 = 1

	for _, ev := range events {
		result.RecordsTotal++
		if ev.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at %s: expected %d, got %d", ev.ID, expectedSeq, ev.Chain.Sequence))
		}
		if ev.Chain.PrevHMAC != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at %s", ev.ID))
		}
		if l.hmacHex(recordData(&ev)) != ev.Chain.HMAC {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"record HMAC mismatch at %s", ev.ID))
		}
		expectedPrev = ev.Chain.HMAC
		expectedSeq++
	}

	// A valid file chain can still hide records removed from the tail;
	// the persisted state must point at the last record seen.
	if result.Valid && len(events) > 0 && l.prevHMAC != expectedPrev {
		result.Valid = false
		result.Errors = append(result.Errors, "log tail does not match persisted chain state")
	}
	return result, nil
}

// Events returns up to limit records, newest last. A zero limit returns
// everything; a non-zero since drops older records.
func (l *Logger) Events(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := all
	if !since.IsZero() {
		filtered = nil
		for _, ev := range all {
			ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, ev)
			}
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// readAll loads every record across the monthly files in order.
func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: list log files: %w", err)
	}
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: read %s: %w", file, err)
		}
		for _, line := range splitLines(data) {
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return nil, fmt.Errorf("audit: parse %s: %w", file, err)
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
