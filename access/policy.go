package access

import (
	"fmt"
	"strings"
)

// Verb is the kind of operation being authorized.
type Verb string

const (
	VerbSelect Verb = "select"
	VerbInsert Verb = "insert"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// ParseVerb converts a verb name, case-insensitively.
func ParseVerb(s string) (Verb, error) {
	switch v := Verb(strings.ToLower(s)); v {
	case VerbSelect, VerbInsert, VerbUpdate, VerbDelete:
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownVerb, s)
}

// Decision is the outcome of an access check. Reason is empty when allowed.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Denial reasons shared by several policies.
const (
	ReasonNotAuthenticated = "Not authenticated"
	ReasonInactive         = "User is inactive"
	ReasonCheckFailed      = "Access check failed"
	ReasonManagerRequired  = "Requires manager+ role"
	ReasonPartnerRequired  = "Requires partner role"
	ReasonNoEngagement     = "No access to engagement"
	ReasonRecordRequired   = "Record ID required"
	ReasonRecordNotFound   = "Record not found"
	ReasonAppendOnly       = "Read-only after creation"
	ReasonReadOnlyColumn   = "Column is not writable"
)

type requirementKind int

const (
	reqAnyone requirementKind = iota
	reqManagerOrAbove
	reqPartner
	reqNobody
)

// Requirement gates one write verb of a RoleGated table.
type Requirement struct {
	kind   requirementKind
	reason string
}

var (
	// Anyone authenticated and active.
	Anyone = Requirement{kind: reqAnyone}
	// ManagerOrAbove holds the manager or partner role.
	ManagerOrAbove = Requirement{kind: reqManagerOrAbove, reason: ReasonManagerRequired}
	// PartnerOnly holds the partner role.
	PartnerOnly = Requirement{kind: reqPartner, reason: ReasonPartnerRequired}
)

// Nobody is never satisfied.
func Nobody(reason string) Requirement {
	return Requirement{kind: reqNobody, reason: reason}
}

// WithReason returns r with a different denial reason.
func (r Requirement) WithReason(reason string) Requirement {
	r.reason = reason
	return r
}

// Policy is one of RoleGated, EngagementScoped, SelfOwned or AppendOnly.
type Policy interface {
	policy()
}

// RoleGated tables are readable by everyone; each write verb has its own
// role requirement. FirmScoped tables are additionally filtered to the
// caller's firm by FilterResults.
type RoleGated struct {
	Insert     Requirement
	Update     Requirement
	Delete     Requirement
	FirmScoped bool
}

// Lookup says how to find the engagement a record belongs to.
type Lookup struct {
	column string
	self   bool
}

// LookupSelf treats the record id as the engagement id (the engagements table).
var LookupSelf = Lookup{self: true}

// LookupColumn reads the engagement id from column of the record.
func LookupColumn(column string) Lookup {
	return Lookup{column: column}
}

// ByEngagementID is the lookup used by nearly every engagement artifact.
var ByEngagementID = LookupColumn("engagement_id")

// DeleteRule decides DELETE once engagement membership is established.
type DeleteRule int

const (
	DeleteAllowed DeleteRule = iota
	DeleteManagerOrAbove
	DeleteCreatorOrPartner
)

// EngagementScoped tables belong to one engagement. With a record id the
// caller must be a member of that engagement, whatever the verb.
type EngagementScoped struct {
	Lookup                 Lookup
	Delete                 DeleteRule
	RequireRecordForUpdate bool
}

// SelfOwned tables hold records owned by one user. With no OwnerColumn the
// record id is compared with the caller's profile id. Writable lists the
// columns an owner may update; empty means any.
type SelfOwned struct {
	OwnerColumn string
	ScopeReads  bool
	AllowInsert bool
	AllowDelete bool
	Writable    []string
}

// AppendOnly tables accept reads and inserts only.
type AppendOnly struct{}

func (RoleGated) policy()        {}
func (EngagementScoped) policy() {}
func (SelfOwned) policy()        {}
func (AppendOnly) policy()       {}

// ReferenceTable is the shape of firm-wide configuration tables.
var ReferenceTable = RoleGated{
	Insert: ManagerOrAbove,
	Update: ManagerOrAbove,
	Delete: PartnerOnly,
}
