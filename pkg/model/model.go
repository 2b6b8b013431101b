// Package model holds the persistent entities shared by the odb, refdb,
// and remotehelper packages: repositories, objects, refs, and reflog
// entries, as described by the logical schema they're all stored under.
package model

import "github.com/andrewpi/gitgres/pkg/oid"

// ObjectType enumerates the four git object kinds. Values match the
// type codes stored in the objects table and used in object-hash headers.
type ObjectType int16

const (
	ObjectCommit ObjectType = 1
	ObjectTree   ObjectType = 2
	ObjectBlob   ObjectType = 3
	ObjectTag    ObjectType = 4
)

// Name returns the lowercase type name used in the object-hash header
// ("<type-name> <size>\0<content>") and in wire protocol messages.
func (t ObjectType) Name() string {
	switch t {
	case ObjectCommit:
		return "commit"
	case ObjectTree:
		return "tree"
	case ObjectBlob:
		return "blob"
	case ObjectTag:
		return "tag"
	default:
		return ""
	}
}

// ParseObjectType maps a type name back to its code. ok is false for
// anything outside {commit, tree, blob, tag}.
func ParseObjectType(name string) (t ObjectType, ok bool) {
	switch name {
	case "commit":
		return ObjectCommit, true
	case "tree":
		return ObjectTree, true
	case "blob":
		return ObjectBlob, true
	case "tag":
		return ObjectTag, true
	default:
		return 0, false
	}
}

// Repository is the multi-tenancy root: every object, ref, and reflog
// row carries the surrogate ID assigned here.
type Repository struct {
	ID   int64
	Name string
}

// Object is one immutable, content-addressed row keyed by (repo, oid).
type Object struct {
	OID  oid.OID
	Type ObjectType
	Size int64
	Data []byte
}

// Ref is a named pointer that is either direct (Valid OID) or symbolic
// (points at another ref's name). Exactly one of OID/Symbolic is set —
// invariant R1; a row violating it is a corruption error, not a Ref value.
type Ref struct {
	Name     string
	OID      oid.OID
	Symbolic string
	IsSymbol bool
}

// ReflogEntry records one transition of a ref, written inside the same
// transaction that performed the transition.
type ReflogEntry struct {
	RefName     string
	OldOID      oid.OID
	HasOldOID   bool
	NewOID      oid.OID
	HasNewOID   bool
	Committer   string
	TimestampS  int64
	TZOffset    string
	Message     string
	HasMessage  bool
}
