package jobs

import "github.com/kozaktomas/photo-jobs/internal/database"

// dependents is the static pipeline graph: a successful task of the key queue
// fans out to each listed queue for the same asset.
var dependents = map[JobName][]JobName{
	MetadataExtraction:  {ThumbnailGeneration},
	ThumbnailGeneration: {FaceDetection, SmartSearch},
	FaceDetection:       {FacialRecognition},
	SmartSearch:         {DuplicateDetection},
}

// upstream is derived from dependents so the two can never disagree.
var upstream = func() map[JobName]JobName {
	m := make(map[JobName]JobName)
	for from, tos := range dependents {
		for _, to := range tos {
			m[to] = from
		}
	}
	return m
}()

// Dependents returns the queues fed by a successful task of name.
func Dependents(name JobName) []JobName {
	return append([]JobName(nil), dependents[name]...)
}

// Upstream returns the queue whose attribute name requires, if any.
func Upstream(name JobName) (JobName, bool) {
	u, ok := upstream[name]
	return u, ok
}

// Requires returns the attributes an asset must carry before name may process it.
func Requires(name JobName) []database.Attribute {
	u, ok := Upstream(name)
	if !ok {
		return nil
	}
	return []database.Attribute{u.Attribute()}
}
