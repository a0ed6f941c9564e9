package domain

import "fmt"

// OperationKind tags a registry operation
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpRemove OperationKind = "remove"
)

// Operation is a single change to apply against the remote registry.
// RemoteID is empty for creates; Metadata is empty for removes.
type Operation struct {
	Kind     OperationKind     `json:"kind"`
	Identity Identity          `json:"identity"`
	RemoteID string            `json:"remote_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateOp registers a newly observed peripheral
func CreateOp(id Identity, metadata map[string]string) Operation {
	return Operation{Kind: OpCreate, Identity: id, Metadata: CloneMetadata(metadata)}
}

// UpdateOp replaces the metadata of an existing record
func UpdateOp(id Identity, remoteID string, metadata map[string]string) Operation {
	return Operation{Kind: OpUpdate, Identity: id, RemoteID: remoteID, Metadata: CloneMetadata(metadata)}
}

// RemoveOp deletes the record of a peripheral that is gone
func RemoveOp(id Identity, remoteID string) Operation {
	return Operation{Kind: OpRemove, Identity: id, RemoteID: remoteID}
}

func (o Operation) String() string {
	if o.RemoteID == "" {
		return fmt.Sprintf("%s(%s)", o.Kind, o.Identity.Key())
	}
	return fmt.Sprintf("%s(%s, %s)", o.Kind, o.Identity.Key(), o.RemoteID)
}

// OperationResult carries the outcome of applying one operation.
// RemoteID is set by a successful create.
type OperationResult struct {
	Operation Operation
	RemoteID  string
	Err       error
}

// Succeeded reports whether the registry accepted the operation
func (r OperationResult) Succeeded() bool {
	return r.Err == nil
}
