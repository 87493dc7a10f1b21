// Package facematch groups detected faces into people.
package facematch

// MatchAction represents what facial recognition does with one face
type MatchAction string

const (
	ActionAssignPerson MatchAction = "assign_person" // A close neighbour already belongs to a person
	ActionCreatePerson MatchAction = "create_person" // Enough unassigned neighbours to start a new person
	ActionDeferred     MatchAction = "deferred"      // Too few similar faces and no person nearby, stays unassigned
	ActionAlreadyDone  MatchAction = "already_done"  // Face already belongs to a person
)

// Neighbor is a stored face close to the face being recognised.
type Neighbor struct {
	FaceID   int64
	PersonID string // empty while unassigned
	Distance float64
}

// Decision is the outcome of recognising one face.
type Decision struct {
	Action MatchAction
	// PersonID is the existing person for ActionAssignPerson.
	PersonID string
	// Members are the unassigned faces, the recognised face included, that
	// form the new person for ActionCreatePerson.
	Members []int64
}
