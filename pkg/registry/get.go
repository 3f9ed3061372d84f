package registry

import (
	"context"
)

// Get returns one module's metadata, with lazy staleness correction applied
// the same way Find applies it, including the exemption for pinned statuses.
func (r *Registry) Get(ctx context.Context, moduleID string) (*ModuleMetadata, error) {
	if err := r.requireStore(); err != nil {
		return nil, err
	}
	if moduleID == "" {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "moduleId is required"}
	}

	rec, err := r.getRecord(ctx, moduleID)
	if err != nil {
		return nil, storeError(err, moduleID)
	}
	rec, _ = r.applyStaleness(ctx, rec)
	return recordToMetadata(rec), nil
}
