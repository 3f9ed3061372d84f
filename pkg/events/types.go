// Package events defines event types and publisher interfaces for registry change events.
package events

// Change kinds carried by ModuleChangedEvent.
const (
	ChangeRegistered   = "registered"
	ChangeUpdated      = "updated"
	ChangeStatus       = "status"
	ChangeDeregistered = "deregistered"
)

// ModuleChangedEvent is emitted when a module's registry entry changes.
// Status transitions carry PreviousStatus/NewStatus/Reason so an external
// collaborator can maintain the append-only audit log.
type ModuleChangedEvent struct {
	ModuleID           string   `json:"moduleId"`
	Name               string   `json:"name"`
	Change             string   `json:"change"`
	PreviousStatus     string   `json:"previousStatus,omitempty"`
	NewStatus          string   `json:"newStatus,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	Forced             bool     `json:"forced,omitempty"`
	DanglingDependents []string `json:"danglingDependents,omitempty"`
	Revision           int      `json:"revision"`
	Timestamp          string   `json:"timestamp"`
}
