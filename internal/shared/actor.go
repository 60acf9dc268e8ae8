package shared

import "context"

// Role enumerates actor roles supplied by the external auth boundary.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleStaff      Role = "STAFF"
	RoleTechnician Role = "TECHNICIAN"
)

// Department enumerates work departments.
type Department string

const (
	DepartmentOffice  Department = "OFFICE"
	DepartmentWinding Department = "WINDING"
	DepartmentMachine Department = "MACHINE"
	DepartmentField   Department = "FIELD_SERVICE"
	DepartmentQC      Department = "QC"
)

// ValidDepartment reports whether d names a known department.
func ValidDepartment(d Department) bool {
	switch d {
	case DepartmentOffice, DepartmentWinding, DepartmentMachine, DepartmentField, DepartmentQC:
		return true
	}
	return false
}

// Actor identifies the user performing an operation. Resolved by the
// gateway in front of this service; carried on every request.
type Actor struct {
	ID          string
	DisplayName string
	Role        Role
	Department  Department
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
