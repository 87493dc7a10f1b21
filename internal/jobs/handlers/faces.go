package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-jobs/internal/constants"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/facematch"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"github.com/sirupsen/logrus"
)

var newPersonID = uuid.NewString

// detectFaces replaces the asset's faces with the confident detections on its preview.
func (d *Deps) detectFaces(ctx context.Context, asset *database.Asset, checksum string, log *logrus.Entry) error {
	preview, err := d.readPreview(ctx, asset)
	if err != nil {
		return err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(preview))
	if err != nil {
		return fmt.Errorf("decode preview: %w", err)
	}

	detected, err := d.ML.DetectFaces(ctx, preview)
	if err != nil {
		return fmt.Errorf("detect faces: %w", err)
	}

	minScore := d.System.Get().MachineLearning.FacialRecognition.MinScore
	kept := keepFaces(detected, minScore)

	faces := make([]database.StoredFace, len(kept))
	for i, f := range kept {
		faces[i] = database.StoredFace{
			AssetID:     asset.ID,
			FaceIndex:   i,
			Embedding:   f.Embedding,
			BBox:        f.BBox,
			DetScore:    f.Score,
			Model:       f.Model,
			ImageWidth:  cfg.Width,
			ImageHeight: cfg.Height,
		}
	}

	// Saved even when empty so the asset is marked as processed.
	if _, err := d.Repo.Faces.ReplaceFaces(ctx, asset.ID, faces, checksum); err != nil {
		return fmt.Errorf("save faces: %w", err)
	}

	log.WithFields(logrus.Fields{"detected": len(detected), "kept": len(faces)}).Debug("faces detected")
	return nil
}

// keepFaces drops detections below minScore and duplicates of the same face.
func keepFaces(detected []fingerprint.DetectedFace, minScore float64) []fingerprint.DetectedFace {
	var confident []fingerprint.DetectedFace
	for _, f := range detected {
		if f.Score >= minScore {
			confident = append(confident, f)
		}
	}

	boxes := make([][]float64, len(confident))
	scores := make([]float64, len(confident))
	for i, f := range confident {
		boxes[i] = f.BBox
		scores[i] = f.Score
	}

	kept := make([]fingerprint.DetectedFace, 0, len(confident))
	for _, i := range facematch.SuppressOverlaps(boxes, scores, constants.FaceOverlapIoU) {
		kept = append(kept, confident[i])
	}
	return kept
}

// recognizeFaces assigns the asset's unassigned faces to people.
func (d *Deps) recognizeFaces(ctx context.Context, asset *database.Asset, checksum string, log *logrus.Entry) error {
	faces, err := d.Repo.Faces.GetFaces(ctx, asset.ID)
	if err != nil {
		return fmt.Errorf("load faces: %w", err)
	}

	cfg := d.System.Get().MachineLearning.FacialRecognition

	// Decisions made earlier in this run, not yet stored.
	assigned := make(map[int64]string)
	var newPeople []database.Person
	var assignments []database.FaceAssignment
	deferred := 0

	for _, face := range faces {
		if face.Assigned() || assigned[face.ID] != "" {
			continue
		}

		similar, distances, err := d.Repo.Faces.FindSimilarWithDistance(ctx, face.Embedding, constants.DefaultSearchLimit, cfg.MaxDistance)
		if err != nil {
			return fmt.Errorf("find similar faces: %w", err)
		}

		neighbors := make([]facematch.Neighbor, len(similar))
		for i, s := range similar {
			personID := s.PersonID
			if p, ok := assigned[s.ID]; ok {
				personID = p
			}
			neighbors[i] = facematch.Neighbor{FaceID: s.ID, PersonID: personID, Distance: distances[i]}
		}

		decision := facematch.Decide(face.ID, "", neighbors, cfg.MinFaces)
		switch decision.Action {
		case facematch.ActionAssignPerson:
			assigned[face.ID] = decision.PersonID
			assignments = append(assignments, database.FaceAssignment{FaceID: face.ID, PersonID: decision.PersonID})

		case facematch.ActionCreatePerson:
			person := database.Person{ID: newPersonID()}
			newPeople = append(newPeople, person)
			for _, id := range decision.Members {
				assigned[id] = person.ID
				assignments = append(assignments, database.FaceAssignment{FaceID: id, PersonID: person.ID})
			}

		case facematch.ActionDeferred:
			deferred++
		}
	}

	if err := d.Repo.Faces.AssignFaces(ctx, asset.ID, newPeople, assignments, checksum); err != nil {
		return fmt.Errorf("assign faces: %w", err)
	}

	log.WithFields(logrus.Fields{
		"faces":      len(faces),
		"assigned":   len(assignments),
		"new_people": len(newPeople),
		"deferred":   deferred,
	}).Debug("faces recognised")
	return nil
}
