package facematch

import "sort"

// Decide chooses what happens to an unassigned face given its neighbours
// within the distance threshold. The face itself counts towards minFaces.
//
// The nearest neighbour that belongs to a person wins, even when the face is
// not part of a large enough cluster itself. Without one, a new person is
// created from the face and its unassigned neighbours once there are at least
// minFaces of them.
func Decide(faceID int64, personID string, neighbors []Neighbor, minFaces int) Decision {
	if personID != "" {
		return Decision{Action: ActionAlreadyDone, PersonID: personID}
	}

	others := make([]Neighbor, 0, len(neighbors))
	for _, n := range neighbors {
		if n.FaceID != faceID {
			others = append(others, n)
		}
	}
	sort.SliceStable(others, func(i, j int) bool {
		if others[i].Distance != others[j].Distance {
			return others[i].Distance < others[j].Distance
		}
		return others[i].FaceID < others[j].FaceID
	})

	for _, n := range others {
		if n.PersonID != "" {
			return Decision{Action: ActionAssignPerson, PersonID: n.PersonID}
		}
	}

	if len(others)+1 < max(minFaces, 1) {
		return Decision{Action: ActionDeferred}
	}

	members := []int64{faceID}
	for _, n := range others {
		members = append(members, n.FaceID)
	}
	return Decision{Action: ActionCreatePerson, Members: members}
}
