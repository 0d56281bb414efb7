package entity

import "github.com/garyjia/fleet-requests/internal/domain/workflow"

// User is an identity known to the role provider
type User struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Roles        []workflow.Role `json:"roles"`
	IsSupervisor bool            `json:"is_supervisor"`
	SupervisorID string          `json:"supervisor_id,omitempty"`
	Department   string          `json:"department,omitempty"`
	LarkOpenID   string          `json:"lark_open_id,omitempty"`
}

// Actor returns the user as a workflow actor
func (u *User) Actor() workflow.Actor {
	return workflow.Actor{
		ID:           u.ID,
		Roles:        append([]workflow.Role(nil), u.Roles...),
		IsSupervisor: u.IsSupervisor,
		Department:   u.Department,
	}
}
