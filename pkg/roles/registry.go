package roles

import (
	"errors"
	"sync"

	"github.com/janteras/d-loop-sub002/pkg/events"
)

var (
	// ErrUnauthorized indicates the caller does not hold the required role
	ErrUnauthorized = errors.New("caller lacks required role")

	// ErrZeroIdentity indicates an empty identity was supplied
	ErrZeroIdentity = errors.New("identity must not be empty")
)

// Role identifies a capability
type Role string

const (
	// RoleAdmin is self-administering and granted to the deployer at genesis
	RoleAdmin Role = "admin"

	// RoleProposer may open governance proposals
	RoleProposer Role = "proposer"

	// RoleDistributor may trigger reward distributions
	RoleDistributor Role = "distributor"

	// RoleAuthorizedContract may trigger fee collection
	RoleAuthorizedContract Role = "authorized_contract"

	// RoleTreasurer may move treasury funds
	RoleTreasurer Role = "treasurer"
)

// Registry maps roles to their authorized identity sets. It is passed by
// reference to every component constructor; there is no ambient global.
type Registry struct {
	members map[Role]map[string]bool
	events  *events.Recorder
	mutex   sync.RWMutex
}

// NewRegistry creates a role registry with the admin role granted to the
// genesis admin.
func NewRegistry(genesisAdmin string, recorder *events.Recorder) *Registry {
	r := &Registry{
		members: make(map[Role]map[string]bool),
		events:  recorder,
	}
	r.members[RoleAdmin] = map[string]bool{genesisAdmin: true}
	return r
}

// HasRole reports whether identity holds the role
func (r *Registry) HasRole(role Role, identity string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.members[role][identity]
}

// Require returns ErrUnauthorized unless caller holds the role
func (r *Registry) Require(role Role, caller string) error {
	if !r.HasRole(role, caller) {
		return ErrUnauthorized
	}
	return nil
}

// Grant adds identity to the role's authorized set. Only admins may grant.
func (r *Registry) Grant(role Role, identity string, caller string) error {
	if identity == "" {
		return ErrZeroIdentity
	}
	if err := r.Require(RoleAdmin, caller); err != nil {
		return err
	}

	r.mutex.Lock()
	if r.members[role] == nil {
		r.members[role] = make(map[string]bool)
	}
	r.members[role][identity] = true
	r.mutex.Unlock()

	r.events.Emit(events.TypeRoleGranted, map[string]string{
		events.AttrRole:     string(role),
		events.AttrIdentity: identity,
	})
	return nil
}

// Revoke removes identity from the role's authorized set. Only admins may revoke.
func (r *Registry) Revoke(role Role, identity string, caller string) error {
	if identity == "" {
		return ErrZeroIdentity
	}
	if err := r.Require(RoleAdmin, caller); err != nil {
		return err
	}

	r.mutex.Lock()
	delete(r.members[role], identity)
	r.mutex.Unlock()

	r.events.Emit(events.TypeRoleRevoked, map[string]string{
		events.AttrRole:     string(role),
		events.AttrIdentity: identity,
	})
	return nil
}

// Members returns the identities holding the role
func (r *Registry) Members(role Role) []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]string, 0, len(r.members[role]))
	for identity := range r.members[role] {
		out = append(out, identity)
	}
	return out
}
