// Package registration resolves application security ids to their
// registrations: the public key that verifies their requests, the
// authorizations they may pass on and the administrators that own them.
//
// Persistence is pluggable through [Store]. A [Resolver] sits in front of
// a store, maps reserved infrastructure ids to their canonical names,
// caches results for a bounded time and parses public keys once.
package registration

import (
	"context"
	"strings"

	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// Status is the lifecycle state of a registration. Only active
// registrations resolve.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusPending Status = "PENDING"
	StatusDenied  Status = "DENIED"
)

// Registration is the persisted record of an application.
type Registration struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	PublicKey string     `json:"public_key,omitempty" yaml:"public_key,omitempty"`
	Level     string     `json:"level" yaml:"level"`
	Formal    token.Tags `json:"authorizations,omitempty" yaml:"authorizations,omitempty"`
	Community token.Tags `json:"community_authorizations,omitempty" yaml:"community_authorizations,omitempty"`
	DN        string     `json:"dn,omitempty" yaml:"dn,omitempty"`
	Admins    []string   `json:"admins,omitempty" yaml:"admins,omitempty"`
	Owner     string     `json:"owner,omitempty" yaml:"owner,omitempty"`
	Status    Status     `json:"status,omitempty" yaml:"status,omitempty"`
}

// Active reports whether the registration may be used. An empty status is
// treated as active so hand-written files need not spell it out.
func (r *Registration) Active() bool {
	return r.Status == "" || r.Status == StatusActive
}

// normalize re-establishes tag set invariants on a record read from a
// backend.
func (r *Registration) normalize() {
	r.Formal = r.Formal.Normalize()
	r.Community = r.Community.Normalize()
}

// Store looks up registrations by id. Implementations return an error
// with [sserr.CodeAppNotRegistered] when no record exists.
type Store interface {
	Lookup(ctx context.Context, id string) (*Registration, error)
}

// Reserved identifies an infrastructure application. Each has a canonical
// common name and a legacy numeric id under which older deployments
// registered it.
type Reserved struct {
	CN       string
	LegacyID string
}

// Reserved infrastructure identities.
var (
	EzSecurity   = Reserved{CN: "_Ez_Security", LegacyID: "10000000"}
	EFE          = Reserved{CN: "_Ez_EFE", LegacyID: "10000001"}
	Registrar    = Reserved{CN: "_Ez_Registration", LegacyID: "10000002"}
	Deployer     = Reserved{CN: "_Ez_Deployer", LegacyID: "10000003"}
	reservedList = []Reserved{EzSecurity, EFE, Registrar, Deployer}
)

// Internal admin project granted to administrators on user tokens.
const (
	AdminProject = "_Ez_internal_project_"
	AdminGroup   = "_Ez_administrator"
)

// infraPrefix marks ids reserved for platform infrastructure.
const infraPrefix = "_Ez_"

// LookupReserved returns the reserved identity matching id by CN or by
// legacy id.
func LookupReserved(id string) (Reserved, bool) {
	for _, r := range reservedList {
		if id == r.CN || id == r.LegacyID {
			return r, true
		}
	}
	return Reserved{}, false
}

// Is reports whether id names r by either form.
func (r Reserved) Is(id string) bool {
	return id != "" && (id == r.CN || id == r.LegacyID)
}

// IsInfrastructure reports whether id belongs to the platform
// infrastructure namespace.
func IsInfrastructure(id string) bool {
	return strings.HasPrefix(id, infraPrefix)
}
