package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kschuler/agentrt/internal/logging"
)

// registeredCall is one Tool.call part the coordinator has seen.
type registeredCall struct {
	id       string
	name     string
	resolved bool
}

// ToolIDCoordinator harmonizes tool-call identity across providers with
// divergent ID rules (spec §4.5): some provide stable opaque IDs, some
// provide per-block indices, some provide none and expect correlation by
// position. The turn loop registers calls from one goroutine, but
// ExecuteBatch calls Resolve from one goroutine per tool call, so every
// method takes the mutex.
type ToolIDCoordinator struct {
	mu sync.Mutex

	// byID indexes every registered call by its id.
	byID map[string]*registeredCall

	// unresolvedByName is a FIFO of unresolved calls per tool name, used by
	// the tolerant-matching policy when a result arrives with an unknown id.
	unresolvedByName map[string][]*registeredCall
}

// NewToolIDCoordinator returns an empty coordinator.
func NewToolIDCoordinator() *ToolIDCoordinator {
	return &ToolIDCoordinator{
		byID:             make(map[string]*registeredCall),
		unresolvedByName: make(map[string][]*registeredCall),
	}
}

// RegisterToolCall stores a call, keyed by id.
func (c *ToolIDCoordinator) RegisterToolCall(id, name string, arguments map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rc := &registeredCall{id: id, name: name}
	c.byID[id] = rc
	c.unresolvedByName[name] = append(c.unresolvedByName[name], rc)
}

// ValidateToolResultID reports whether id matches a registered call.
func (c *ToolIDCoordinator) ValidateToolResultID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byID[id]
	return ok
}

// Resolve implements the tolerant matching policy: if id is registered, it is
// resolved directly. Otherwise the coordinator matches by name against the
// oldest unresolved call of that name. If still unresolved (every call of
// that name is already resolved), it synthesizes a placeholder call and logs
// a warning rather than failing the turn — per spec §4.5 "attach the result
// to a synthetic placeholder call and log a warning". Resolve returns the id
// that should be used on the outgoing Tool.result part, and whether a hard
// mismatch occurred (no call with that name exists at all, which is fatal
// per §4.5 and reported by the orchestrator as KindToolIDMismatch).
func (c *ToolIDCoordinator) Resolve(id, name string) (resolvedID string, hardMismatch bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.byID[id]; ok && !rc.resolved {
		rc.resolved = true
		c.removeFromUnresolved(rc)
		return id, false
	}

	queue := c.unresolvedByName[name]
	if len(queue) > 0 {
		rc := queue[0]
		rc.resolved = true
		c.unresolvedByName[name] = queue[1:]
		logging.Logger().Warn("tool result id did not match a registered call; matched by name instead",
			"result_id", id, "matched_call_id", rc.id, "name", name)
		return rc.id, false
	}

	// No call with this name was ever registered at all: hard mismatch.
	if !c.nameEverSeen(name) {
		return "", true
	}

	// The name was seen but every call of that name is already resolved:
	// synthesize a placeholder rather than fail the turn.
	placeholderID := "synthetic-" + uuid.NewString()
	logging.Logger().Warn("tool result matched no unresolved call; synthesizing placeholder",
		"result_id", id, "placeholder_id", placeholderID, "name", name)
	return placeholderID, false
}

func (c *ToolIDCoordinator) nameEverSeen(name string) bool {
	for _, rc := range c.byID {
		if rc.name == name {
			return true
		}
	}
	return false
}

func (c *ToolIDCoordinator) removeFromUnresolved(target *registeredCall) {
	queue := c.unresolvedByName[target.name]
	for i, rc := range queue {
		if rc == target {
			c.unresolvedByName[target.name] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// GenerateToolCallID deterministically derives a call id for adapters whose
// provider never assigns one. Same inputs always produce the same id within
// a process (spec §4.5, §8 tool-ID determinism property).
func GenerateToolCallID(toolName, providerHint string, arguments map[string]any) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(providerHint))
	h.Write([]byte{0})
	h.Write([]byte(canonicalJSON(arguments)))
	return "tc-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// canonicalJSON renders a map with sorted keys so that GenerateToolCallID is
// insensitive to map iteration order.
func canonicalJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(m[k])
		if err != nil {
			vb = []byte(fmt.Sprintf("%q", fmt.Sprint(m[k])))
		}
		out += string(kb) + ":" + string(vb)
	}
	out += "}"
	return out
}

// Clear resets the coordinator between conversations.
func (c *ToolIDCoordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]*registeredCall)
	c.unresolvedByName = make(map[string][]*registeredCall)
}
