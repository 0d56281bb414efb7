package workflow

// Role is a named organisational role held by a user.
type Role string

const (
	RoleStaff            Role = "staff"
	RoleSupervisor       Role = "supervisor"
	RoleDGS              Role = "dgs"
	RoleDDGS             Role = "ddgs"
	RoleADTransport      Role = "ad_transport"
	RoleTransportOfficer Role = "transport_officer"
	RoleDriver           Role = "driver"
	RoleICTHead          Role = "ict_head"
	RoleICTOfficer       Role = "ict_officer"
	RoleStoresHead       Role = "stores_head"
	RoleStoreKeeper      Role = "store_keeper"
	RoleAdmin            Role = "admin"
	RoleSystem           Role = "system"
)

// SystemActorID identifies automatic transitions such as geofence returns
const SystemActorID = "system"

// Actor is the identity performing an action.
type Actor struct {
	ID           string
	Roles        []Role
	IsSupervisor bool
	Department   string
}

// HasRole returns true if the actor holds the role
func (a Actor) HasRole(r Role) bool {
	for _, role := range a.Roles {
		if role == r {
			return true
		}
	}
	return false
}

// SystemActor returns the actor used for automatic transitions
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Roles: []Role{RoleSystem}}
}

// Subject is the part of a request the engine needs to decide permissions.
type Subject struct {
	Kind             Kind
	Stage            Stage
	RequesterID      string
	SupervisorID     string
	AssignedDriverID string
}

// Requirement is one entry of a stage's required-role set, expressed as a predicate over the actor.
// The designated-supervisor requirement is special: whether it demands an exact
// supervisor match is decided by the stage, not by the requirement.
type Requirement struct {
	Name       string
	Role       Role
	supervisor bool
	check      func(Actor, Subject) bool
}

// RequireRole is satisfied by any actor holding the role
func RequireRole(r Role) Requirement {
	return Requirement{
		Name: string(r),
		Role: r,
		check: func(a Actor, _ Subject) bool {
			return a.HasRole(r)
		},
	}
}

// RequireSupervisor is satisfied by supervisors, or only by the request's designated
// supervisor when the stage requires a supervisor match.
func RequireSupervisor() Requirement {
	return Requirement{Name: string(RoleSupervisor), supervisor: true}
}

// RequireRequester is satisfied only by the request's requester
func RequireRequester() Requirement {
	return Requirement{
		Name: "requester",
		check: func(a Actor, s Subject) bool {
			return a.ID != "" && a.ID == s.RequesterID
		},
	}
}

// RequireAssignedDriver is satisfied only by the driver assigned to the request
func RequireAssignedDriver() Requirement {
	return Requirement{
		Name: string(RoleDriver),
		check: func(a Actor, s Subject) bool {
			return a.ID != "" && a.ID == s.AssignedDriverID
		},
	}
}

// IsSupervisor reports whether this is the designated-supervisor requirement
func (r Requirement) IsSupervisor() bool {
	return r.supervisor
}

func (r Requirement) satisfiedBy(a Actor, s Subject, supervisorMatch bool) bool {
	if r.supervisor {
		if !a.IsSupervisor {
			return false
		}
		return !supervisorMatch || (s.SupervisorID != "" && a.ID == s.SupervisorID)
	}
	if r.check == nil {
		return false
	}
	return r.check(a, s)
}

// couldSatisfy reports whether the actor might satisfy the requirement for some request.
// Used to narrow queries before the exact per-request check.
func (r Requirement) couldSatisfy(a Actor) bool {
	switch {
	case r.supervisor:
		return a.IsSupervisor
	case r.Role != "":
		return a.HasRole(r.Role)
	}
	return false
}
