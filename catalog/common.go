// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package catalog implements the data identifier (DID) catalog engine:
// a hierarchical namespace of files, datasets and containers with bulk
// attach/detach/delete semantics on top of a relational store.
package catalog

import (
	"crypto/md5"
	"database/sql/driver"
	"regexp"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the catalog.
	Error = errs.Class("catalog")
	// ErrDIDNotFound is used when a data identifier does not exist.
	ErrDIDNotFound = errs.Class("data identifier not found")
	// ErrScopeNotFound is used when the scope of a new data identifier does not exist.
	ErrScopeNotFound = errs.Class("scope not found")
	// ErrAccountNotFound is used when an account cannot be resolved.
	ErrAccountNotFound = errs.Class("account not found")
	// ErrDIDAlreadyExists is used when registering an already registered data identifier.
	ErrDIDAlreadyExists = errs.Class("data identifier already exists")
	// ErrFileAlreadyExists is used when attaching a file twice to the same dataset.
	ErrFileAlreadyExists = errs.Class("file already attached")
	// ErrDuplicateContent is used when attaching a collection twice to the same container.
	ErrDuplicateContent = errs.Class("duplicate content")
	// ErrUnsupportedOperation is used for type, state and cycle violations.
	ErrUnsupportedOperation = errs.Class("unsupported operation")
	// ErrFileConsistency is used when caller-supplied file attributes disagree with the catalog.
	ErrFileConsistency = errs.Class("file consistency mismatch")
	// ErrUnsupportedStatus is used for unknown status names in SetStatus.
	ErrUnsupportedStatus = errs.Class("unsupported status")
	// ErrUndefinedPolicy is used when an optional archive policy is absent; it is
	// recovered during deletion and never surfaces to callers.
	ErrUndefinedPolicy = errs.Class("undefined policy")
	// ErrInvalidRequest is used to indicate invalid request arguments.
	ErrInvalidRequest = errs.Class("invalid request")
)

// DefaultVO is the virtual organization assumed when none is configured.
// Message payloads carry an explicit vo only when it differs from this one.
const DefaultVO = "def"

// DIDType is the type tag of a data identifier.
type DIDType int

// Supported DID types. The zero value is invalid so that it cannot be
// mistaken for a real type when a row scan is missed.
const (
	DIDTypeFile DIDType = iota + 1
	DIDTypeDataset
	DIDTypeContainer
)

// String implements fmt.Stringer.
func (t DIDType) String() string {
	switch t {
	case DIDTypeFile:
		return "FILE"
	case DIDTypeDataset:
		return "DATASET"
	case DIDTypeContainer:
		return "CONTAINER"
	default:
		return "UNKNOWN"
	}
}

// Value converts a DIDType to a database field.
func (t DIDType) Value() (driver.Value, error) {
	return int64(t), nil
}

// Scan extracts a DIDType from a database field.
func (t *DIDType) Scan(value interface{}) error {
	switch value := value.(type) {
	case int64:
		*t = DIDType(value)
		return nil
	default:
		return Error.New("unable to scan %T into DIDType", value)
	}
}

// Availability is the physical availability of a file.
type Availability int

// Availability states for files.
const (
	AvailabilityAvailable Availability = iota + 1
	AvailabilityLost
	AvailabilityDeleted
)

// String implements fmt.Stringer.
func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "AVAILABLE"
	case AvailabilityLost:
		return "LOST"
	case AvailabilityDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// Value converts an Availability to a database field.
func (a Availability) Value() (driver.Value, error) {
	return int64(a), nil
}

// Scan extracts an Availability from a database field.
func (a *Availability) Scan(value interface{}) error {
	switch value := value.(type) {
	case int64:
		*a = Availability(value)
		return nil
	default:
		return Error.New("unable to scan %T into Availability", value)
	}
}

// ReevaluationAction marks why a DID needs rule re-evaluation.
type ReevaluationAction string

// Re-evaluation actions recorded in updated_dids.
const (
	ReevaluateAttach ReevaluationAction = "ATTACH"
	ReevaluateDetach ReevaluationAction = "DETACH"
)

// RuleState is the evaluation state of a replication rule. Rules are owned
// by the external rule engine; the catalog only reads these states.
type RuleState string

// Rule states observed by the catalog.
const (
	RuleStateOK     RuleState = "OK"
	RuleStateInject RuleState = "INJECT"
	RuleStateStuck  RuleState = "STUCK"
)

// ReplicaState values for bad_replicas rows touched during deletion.
const (
	BadReplicaBad     = "BAD"
	BadReplicaDeleted = "DELETED"
)

// DIDLocation identifies a data identifier within the catalog.
type DIDLocation struct {
	Scope string
	Name  string
}

// Verify location fields.
func (loc DIDLocation) Verify() error {
	switch {
	case loc.Scope == "":
		return ErrInvalidRequest.New("Scope missing")
	case loc.Name == "":
		return ErrInvalidRequest.New("Name missing")
	}
	return nil
}

// String implements fmt.Stringer.
func (loc DIDLocation) String() string {
	return loc.Scope + ":" + loc.Name
}

// Less implements sorting on locations.
func (loc DIDLocation) Less(b DIDLocation) bool {
	if loc.Scope != b.Scope {
		return loc.Scope < b.Scope
	}
	return loc.Name < b.Name
}

// DID is a full data identifier row.
type DID struct {
	DIDLocation

	Type    DIDType
	Account string

	IsOpen        bool
	Monotonic     bool
	Hidden        bool
	Obsolete      bool
	Complete      *bool
	IsNew         bool
	Suppressed    bool
	PurgeReplicas bool
	IsArchive     bool
	Constituent   bool
	Transient     bool

	Availability *Availability

	Bytes  *int64
	Length *int64
	Events *int64

	MD5     *string
	Adler32 *string
	GUID    *string

	ExpiredAt  *time.Time
	ClosedAt   *time.Time
	AccessedAt *time.Time
	EOLAt      *time.Time
	DeletedAt  *time.Time
	AccessCnt  *int64

	// Domain pass-through attributes; opaque to the engine.
	Project     *string
	Datatype    *string
	RunNumber   *int64
	StreamName  *string
	ProdStep    *string
	Version     *string
	Campaign    *string
	TaskID      *int64
	PandaID     *int64
	Lumiblocknr *int64
	Provenance  *string
	PhysGroup   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Association is a parent/child edge in the DID graph.
type Association struct {
	Scope      string
	Name       string
	ChildScope string
	ChildName  string

	Type      DIDType
	ChildType DIDType

	Bytes   *int64
	Adler32 *string
	MD5     *string
	GUID    *string
	Events  *int64

	RuleEvaluation bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location returns the parent location of the association.
func (a Association) Location() DIDLocation {
	return DIDLocation{Scope: a.Scope, Name: a.Name}
}

// ChildLocation returns the child location of the association.
func (a Association) ChildLocation() DIDLocation {
	return DIDLocation{Scope: a.ChildScope, Name: a.ChildName}
}

// AssociationHistory is an immutable log row of a removed association.
type AssociationHistory struct {
	Association

	DIDCreatedAt *time.Time
	DeletedAt    time.Time
}

// ArchiveConstituent is an edge between an archive file and one of its
// constituent files.
type ArchiveConstituent struct {
	Scope      string
	Name       string
	ChildScope string
	ChildName  string

	Bytes   *int64
	Adler32 *string
	MD5     *string
	GUID    *string
	Length  *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdatedDID is a pending rule re-evaluation marker.
type UpdatedDID struct {
	ID        string
	Scope     string
	Name      string
	Action    ReevaluationAction
	CreatedAt time.Time
}

// Follow records an account subscribed to a DID.
type Follow struct {
	Scope     string
	Name      string
	Account   string
	Type      DIDType
	CreatedAt time.Time
}

// FollowEvent records a change affecting a followed DID.
type FollowEvent struct {
	ID        string
	Scope     string
	Name      string
	Account   string
	Type      DIDType
	EventType string
	Payload   string
	CreatedAt time.Time
}

// archiveNameRx matches file names whose extension marks them as archives
// able to carry constituent files.
var archiveNameRx = regexp.MustCompile(`\.(zip|tar|tar\.gz|tgz)(\.\d+)?$`)

// IsArchiveName reports whether a file name carries an archive extension.
func IsArchiveName(name string) bool {
	return archiveNameRx.MatchString(name)
}

// NameShard returns the worker shard of a name: the md5 of the name taken as
// a 128-bit integer, modulo total. It must stay stable across releases since
// concurrently deployed workers partition the key space with it.
func NameShard(name string, total int) int {
	if total <= 0 {
		return 0
	}
	sum := md5.Sum([]byte(name))
	rem := 0
	for _, b := range sum {
		rem = (rem*256 + int(b)) % total
	}
	return rem
}

// ListLimit is the maximum number of items a single listing query returns.
const ListLimit = intLimitRange(1000)

// bulkInsertBatch limits the number of rows in one multi-row INSERT.
const bulkInsertBatch = 500

type intLimitRange int

// Ensure clamps v to (0, limit].
func (limit intLimitRange) Ensure(v *int) {
	if *v <= 0 || *v > int(limit) {
		*v = int(limit)
	}
}
