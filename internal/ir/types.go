package ir

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/roach88/automata/internal/version"
)

// State is a JSON object: an automata's projected state, an initial state,
// or an event payload.
type State map[string]any

// Identity is the verified caller identity supplied by the transport layer.
// The core trusts it and performs no verification of its own.
type Identity struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
}

// Status is the lifecycle status of an automata.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ValidStatuses defines allowed automata statuses.
var ValidStatuses = map[Status]bool{
	StatusActive:   true,
	StatusArchived: true,
}

// BuiltinNamespace prefixes the app ID of system-provided blueprints.
// Builtin blueprints are unsigned; everything else must carry a signature
// verified upstream.
const BuiltinNamespace = "@builtin/"

// BlueprintContent is the hashed portion of a blueprint.
type BlueprintContent struct {
	AppID        string                     `json:"app_id"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description,omitempty"`
	StateSchema  json.RawMessage            `json:"state_schema"`
	EventSchemas map[string]json.RawMessage `json:"event_schemas"`
	InitialState State                      `json:"initial_state"`
	Transition   string                     `json:"transition"`
}

// EventTypes returns the declared event types in sorted order.
func (c BlueprintContent) EventTypes() []string {
	types := make([]string, 0, len(c.EventSchemas))
	for t := range c.EventSchemas {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// HasEventType reports whether eventType is declared.
func (c BlueprintContent) HasEventType(eventType string) bool {
	_, ok := c.EventSchemas[eventType]
	return ok
}

// IsBuiltin reports whether the content lives in the reserved builtin
// namespace.
func (c BlueprintContent) IsBuiltin() bool {
	return strings.HasPrefix(c.AppID, BuiltinNamespace) && len(c.AppID) > len(BuiltinNamespace)
}

// Blueprint is an immutable, content-addressed automata template.
type Blueprint struct {
	ID string `json:"id"` // appId/name@contentHash
	BlueprintContent
	ContentHash string    `json:"content_hash"`
	Signature   *string   `json:"signature,omitempty"` // nil for builtins
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Automata is the mutable aggregate: the current-state projection of an
// event log.
type Automata struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	OwnerID     string          `json:"owner_id"`
	BlueprintID string          `json:"blueprint_id"`
	AppID       string          `json:"app_id"`
	State       State           `json:"state"`
	Version     version.Version `json:"version"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Event is an accepted, immutable log record keyed by (AutomataID, BaseVersion).
// BaseVersion is the automata version before the event applied.
type Event struct {
	AutomataID  string          `json:"automata_id"`
	BaseVersion version.Version `json:"base_version"`
	Type        string          `json:"event_type"`
	Data        State           `json:"event_data"`
	SenderID    string          `json:"sender_id"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Version returns the automata version produced by this event.
// Stored events never sit at version.Max, so the increment cannot fail.
func (e Event) Version() version.Version {
	v, err := version.Increment(e.BaseVersion)
	if err != nil {
		return ""
	}
	return v
}

// Snapshot is a cached projection of an automata at Version.
// It is never authoritative; the log always wins.
type Snapshot struct {
	AutomataID string          `json:"automata_id"`
	Version    version.Version `json:"version"`
	State      State           `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Transition describes a committed state change, as handed to observers.
type Transition struct {
	AutomataID  string          `json:"automata_id"`
	OwnerID     string          `json:"owner_id"`
	EventType   string          `json:"event_type"`
	BaseVersion version.Version `json:"base_version"`
	Version     version.Version `json:"version"`
	State       State           `json:"state"`
	SenderID    string          `json:"sender_id"`
}
