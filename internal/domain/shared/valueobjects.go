package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Object
// ═══════════════════════════════════════════════════════════════════════════

// ID is a record identifier in UUID format.
type ID string

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValid checks if the ID is a valid UUID.
func (id ID) IsValid() bool {
	return uuidRegex.MatchString(string(id))
}

// String returns the string representation.
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty.
func (id ID) IsEmpty() bool {
	return id == ""
}

// ParseID normalizes and validates an ID.
func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if !id.IsValid() {
		return "", NewDomainError("shared", "ParseID", ErrInvalidID, "invalid ID format")
	}
	return id, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Mutation operations
// ═══════════════════════════════════════════════════════════════════════════

// Op is the kind of write performed on an entity.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// IsValid reports whether op is one of the known operations.
func (o Op) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// String returns the string representation.
func (o Op) String() string { return string(o) }

// AllOps lists every operation in a fixed order.
func AllOps() []Op { return []Op{OpCreate, OpUpdate, OpDelete} }
