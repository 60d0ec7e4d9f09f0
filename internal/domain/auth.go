package domain

// SubjectType differentiates students from staff callers.
type SubjectType string

const (
	SubjectTypeStudent SubjectType = "STUDENT"
	SubjectTypeStaff   SubjectType = "STAFF"
	SubjectTypeSystem  SubjectType = "SYSTEM"
)

// Actor is the caller identity passed to the dispatch engine. The ID is an
// opaque tag supplied by the external auth collaborator.
type Actor struct {
	Type           SubjectType
	ID             string
	DepartmentCode string
}

// IsStaff reports whether the actor acts on behalf of a department.
func (a Actor) IsStaff() bool {
	return a.Type == SubjectTypeStaff
}

// SystemActor is used for operations not triggered by a client.
func SystemActor() Actor {
	return Actor{Type: SubjectTypeSystem}
}
