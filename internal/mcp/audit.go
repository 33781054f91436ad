package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/pcosc/internal/store"
)

// AuditFile is the audit log file name inside a .pcosc directory.
const AuditFile = "audit.jsonl"

// Audit scopes. Local entries go to the project's log, global entries to the
// one under the home directory.
const (
	ScopeLocal  = "local"
	ScopeGlobal = "global"
)

// AuditEntry represents a single audit log entry for an MCP tool invocation.
// It captures metadata about the call without including network definitions,
// labels or file paths.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	Scope      string            `json:"scope"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

type auditFile struct {
	mu   sync.Mutex
	file *os.File
}

// AuditLogger writes audit entries to JSONL files, routing to the local or
// global log by entry scope. It is safe for concurrent use, and a nil
// AuditLogger is a no-op.
type AuditLogger struct {
	local  *auditFile
	global *auditFile
}

// openAuditFile opens dir/.pcosc/audit.jsonl for appending. It returns nil if
// dir is empty or the file cannot be created.
func openAuditFile(dir string) *auditFile {
	if dir == "" {
		return nil
	}
	path := filepath.Join(dir, store.DirName, AuditFile)

	auditDir := filepath.Dir(path)
	if err := os.MkdirAll(auditDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory %s: %v\n", auditDir, err)
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log %s: %v\n", path, err)
		return nil
	}

	return &auditFile{file: f}
}

func (af *auditFile) write(entry AuditEntry) {
	if af == nil || af.file == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	af.mu.Lock()
	defer af.mu.Unlock()
	_, _ = af.file.Write(data)
}

func (af *auditFile) close() error {
	if af == nil || af.file == nil {
		return nil
	}

	af.mu.Lock()
	defer af.mu.Unlock()

	err := af.file.Close()
	af.file = nil
	return err
}

// NewAuditLogger creates an audit logger writing to localDir/.pcosc/audit.jsonl
// and globalDir/.pcosc/audit.jsonl. A directory that cannot be used is
// skipped with a warning on stderr; if neither can, it returns nil.
func NewAuditLogger(localDir, globalDir string) *AuditLogger {
	local := openAuditFile(localDir)
	global := openAuditFile(globalDir)

	if local == nil && global == nil {
		return nil
	}

	return &AuditLogger{
		local:  local,
		global: global,
	}
}

// Log writes an entry to the log matching its scope. An empty scope is
// local. If the chosen log is unavailable the other one is used.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}

	primary, fallback := a.local, a.global
	if entry.Scope == ScopeGlobal {
		primary, fallback = a.global, a.local
	}
	if primary == nil {
		primary = fallback
	}
	primary.write(entry)
}

// Close closes both audit log files.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}

	var firstErr error
	if err := a.local.close(); err != nil {
		firstErr = err
	}
	if err := a.global.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// safeValueParams are logged with their values.
var safeValueParams = map[string]bool{
	"dt":            true,
	"duration":      true,
	"workers":       true,
	"probe_synapse": true,
	"samples":       true,
	"persist":       true,
	"format":        true,
	"limit":         true,
}

// presenceOnlyParams are logged as "(set)": their values may carry user
// content or local paths.
var presenceOnlyParams = map[string]bool{
	"network":     true,
	"label":       true,
	"arrow_file":  true,
	"checkpoint":  true,
	"resume":      true,
	"id":          true,
	"population":  true,
	"populations": true,
}

// sanitizeToolParams extracts safe metadata from tool parameters. Zero values
// are treated as unset. Model parameter overrides are logged by key only, as
// "params" = "omega,stim". Unknown keys are dropped. A "_param_count" key
// always records how many parameters were set.
func sanitizeToolParams(params map[string]interface{}) map[string]string {
	if params == nil {
		return nil
	}

	result := make(map[string]string)
	count := 0
	for key, val := range params {
		if isZero(val) {
			continue
		}
		count++
		switch {
		case key == "params":
			if m, ok := val.(map[string]float64); ok {
				keys := make([]string, 0, len(m))
				for k := range m {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				result[key] = strings.Join(keys, ",")
			}
		case safeValueParams[key]:
			result[key] = fmt.Sprintf("%v", val)
		case presenceOnlyParams[key]:
			result[key] = "(set)"
		}
	}

	result["_param_count"] = fmt.Sprintf("%d", count)
	return result
}

func isZero(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	case []string:
		return len(x) == 0
	case map[string]float64:
		return len(x) == 0
	default:
		return false
	}
}

// auditTool logs a tool invocation with the given scope.
func (s *Server) auditTool(toolName string, start time.Time, err error, params map[string]string, scope string) {
	status := "success"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}

	if scope == "" {
		scope = ScopeLocal
	}

	s.auditLogger.Log(AuditEntry{
		Timestamp:  start,
		Tool:       toolName,
		Scope:      scope,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     status,
		Error:      errMsg,
		Params:     params,
	})
	s.logger.Debug("mcp tool call", "tool", toolName, "status", status,
		"duration_ms", time.Since(start).Milliseconds())
}
