package commsutil

import "fmt"

// Default COMMS subjects.
const (
	SubjectRegistry    = "mod.more0.registry.v1"
	SubjectChangeEvent = "modules.changed"
)

// BuildChangeSubject builds a granular change event subject for one module.
func BuildChangeSubject(moduleID string) string {
	return fmt.Sprintf("modules.changed.%s", moduleID)
}
