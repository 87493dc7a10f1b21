package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestNewRegistry_CoversEveryJob(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range jobs.Names {
		if _, err := env.registry.Lookup(name); err != nil {
			t.Errorf("no handler for %s: %v", name, err)
		}
	}
}

func TestMetadataExtraction(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(64, 48, red))

	out := env.process(t, jobs.MetadataExtraction, a.ID, false)
	if out.Kind != jobs.OutcomeSuccess || !out.Produced {
		t.Fatalf("expected success, got %+v", out)
	}

	got := env.asset(t, a.ID)
	if got.Exif == nil || got.Exif.ExifImageWidth == nil || *got.Exif.ExifImageWidth != 64 {
		t.Errorf("expected exif width 64, got %+v", got.Exif)
	}
	status, ok := got.JobStatus[database.AttributeMetadata]
	if !ok || status.SourceChecksum != a.Checksum {
		t.Errorf("metadata status = %+v, want checksum %s", status, a.Checksum)
	}

	data, err := env.files.Read(context.Background(), a.OriginalPath)
	if err != nil || !bytes.Equal(data, encodeJPEG(t, solidImage(64, 48, red))) {
		t.Error("original bytes must not be modified")
	}
}

func TestGuard(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(64, 48, red))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction)

	tests := []struct {
		name   string
		change bool
		force  bool
		want   jobs.OutcomeKind
	}{
		{"unchanged bytes are skipped", false, false, jobs.OutcomeSkippedAlreadyCurrent},
		{"force re-derives unchanged bytes", false, true, jobs.OutcomeSuccess},
		{"changed bytes are re-derived", true, false, jobs.OutcomeSuccess},
		{"re-derived attribute is current again", false, false, jobs.OutcomeSkippedAlreadyCurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.change {
				env.replaceOriginal(t, a, solidImage(80, 60, blue))
			}
			out := env.process(t, jobs.MetadataExtraction, a.ID, tt.force)
			if out.Kind != tt.want {
				t.Errorf("got %s, want %s", out.Kind, tt.want)
			}
		})
	}

	got := env.asset(t, a.ID)
	if *got.Exif.ExifImageWidth != 80 {
		t.Errorf("expected exif of the new bytes, got width %d", *got.Exif.ExifImageWidth)
	}
	if got.JobStatus[database.AttributeMetadata].SourceChecksum == a.Checksum {
		t.Error("source checksum should follow the new bytes")
	}
}

func TestHandler_AssetNotFound(t *testing.T) {
	env := newTestEnv(t)
	out := env.process(t, jobs.MetadataExtraction, assetID(99), false)
	if out.Kind != jobs.OutcomeFailed || !strings.Contains(out.Reason, "asset not found") {
		t.Errorf("expected not found failure, got %+v", out)
	}
}

func TestHandler_MissingOriginal(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(10, 10, red))
	if err := env.files.Remove(context.Background(), a.OriginalPath); err != nil {
		t.Fatal(err)
	}

	out := env.process(t, jobs.MetadataExtraction, a.ID, false)
	if out.Kind != jobs.OutcomeFailed {
		t.Errorf("expected failure, got %+v", out)
	}
	if env.asset(t, a.ID).Has(database.AttributeMetadata) {
		t.Error("failed task must not mark the attribute")
	}
}

func TestDependencyUnmet(t *testing.T) {
	tests := []struct {
		name  jobs.JobName
		setup []jobs.JobName
	}{
		{jobs.ThumbnailGeneration, nil},
		{jobs.SmartSearch, []jobs.JobName{jobs.MetadataExtraction}},
		{jobs.FaceDetection, []jobs.JobName{jobs.MetadataExtraction}},
		{jobs.FacialRecognition, []jobs.JobName{jobs.MetadataExtraction, jobs.ThumbnailGeneration}},
		{jobs.DuplicateDetection, []jobs.JobName{jobs.MetadataExtraction, jobs.ThumbnailGeneration}},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			env := newTestEnv(t)
			a := env.addAsset(t, 1, solidImage(32, 32, green))
			env.mustProcess(t, a.ID, tt.setup...)

			// force does not bypass the dependency check
			out := env.process(t, tt.name, a.ID, true)
			if out.Kind != jobs.OutcomeSkippedDependencyUnmet {
				t.Errorf("got %+v, want dependency unmet", out)
			}
		})
	}
}

func TestDisabledFeature(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(32, 32, green))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration)
	env.updateSystem(t, func(c *config.SystemConfig) { c.MachineLearning.Clip.Enabled = false })

	for _, name := range []jobs.JobName{jobs.SmartSearch, jobs.DuplicateDetection} {
		if out := env.process(t, name, a.ID, false); out.Kind != jobs.OutcomeSkippedDisabled {
			t.Errorf("%s: got %+v, want disabled", name, out)
		}
	}
	if out := env.process(t, jobs.FaceDetection, a.ID, false); out.Kind != jobs.OutcomeSuccess {
		t.Errorf("face detection should still run, got %+v", out)
	}
	if embed, _ := env.ml.calls(); embed != 0 {
		t.Errorf("disabled smart search called the ML server %d times", embed)
	}
}

func TestThumbnailGeneration(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(40, 20, red))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction)

	// The stored exif says the camera was rotated.
	six := 6
	if err := env.repo.Assets.UpsertExif(context.Background(), a.ID, database.ExifInfo{Orientation: &six}, a.Checksum); err != nil {
		t.Fatal(err)
	}

	if out := env.process(t, jobs.ThumbnailGeneration, a.ID, false); out.Kind != jobs.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", out)
	}

	got := env.asset(t, a.ID)
	if len(got.Thumbhash) != fingerprint.ThumbhashSize {
		t.Errorf("thumbhash has %d bytes", len(got.Thumbhash))
	}
	preview, err := env.files.Read(context.Background(), got.PreviewPath)
	if err != nil {
		t.Fatalf("preview not written: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(preview))
	if err != nil {
		t.Fatalf("preview is not an image: %v", err)
	}
	if cfg.Width != 20 || cfg.Height != 40 {
		t.Errorf("preview = %dx%d, want upright 20x40", cfg.Width, cfg.Height)
	}
	if ok, _ := env.files.Exists(context.Background(), got.ThumbnailPath); !ok {
		t.Error("thumbnail not written")
	}
}

func TestThumbnailGeneration_LogsDriftOnRegeneration(t *testing.T) {
	hook := logtest.NewGlobal()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() { logrus.SetLevel(level) })

	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(32, 32, red))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration)

	drift := func() (any, bool) {
		for _, e := range hook.AllEntries() {
			if e.Message == "thumbnails generated" && e.Data["asset_id"] == a.ID {
				if d, ok := e.Data["thumbhash_distance"]; ok {
					return d, true
				}
			}
		}
		return nil, false
	}
	if _, ok := drift(); ok {
		t.Error("first rendition has nothing to compare against")
	}

	hook.Reset()
	if out := env.process(t, jobs.ThumbnailGeneration, a.ID, true); out.Kind != jobs.OutcomeSuccess {
		t.Fatalf("forced regeneration: %+v", out)
	}
	d, ok := drift()
	if !ok {
		t.Fatal("expected thumbhash distance on regeneration")
	}
	if d != 0 {
		t.Errorf("unchanged picture drifted by %v", d)
	}
}

func TestThumbnailGeneration_UndecodableOriginal(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(10, 10, red))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction)
	if err := env.files.Write(context.Background(), a.OriginalPath, []byte("garbage")); err != nil {
		t.Fatal(err)
	}

	out := env.process(t, jobs.ThumbnailGeneration, a.ID, false)
	if out.Kind != jobs.OutcomeFailed || !strings.Contains(out.Reason, "unsupported image") {
		t.Errorf("expected unsupported image failure, got %+v", out)
	}
}

func TestSmartSearch(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(32, 32, blue))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.SmartSearch)

	emb, err := env.repo.Embeddings.Get(context.Background(), a.ID)
	if err != nil || emb == nil {
		t.Fatalf("embedding not stored: %v", err)
	}
	if emb.Model != env.system.Get().MachineLearning.Clip.ModelName {
		t.Errorf("model = %q", emb.Model)
	}
	if !env.asset(t, a.ID).Has(database.AttributeEmbedding) {
		t.Error("embedding attribute not marked")
	}
}

func TestSmartSearch_InferenceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(32, 32, blue))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration)
	env.ml.err = fmt.Errorf("%w: connection refused", fingerprint.ErrInferenceUnavailable)

	out := env.process(t, jobs.SmartSearch, a.ID, false)
	if out.Kind != jobs.OutcomeFailed || !strings.Contains(out.Reason, "inference unavailable") {
		t.Errorf("expected inference failure, got %+v", out)
	}
	if env.asset(t, a.ID).Has(database.AttributeEmbedding) {
		t.Error("failed task must not mark the attribute")
	}
}

func TestFaceDetection(t *testing.T) {
	env := newTestEnv(t)
	env.ml.faces = func([]byte) []fingerprint.DetectedFace {
		return []fingerprint.DetectedFace{
			face(0, 0.95, 0, 0, 0, 10, 10),
			face(1, 0.90, 0, 1, 1, 11, 11),   // same face detected twice
			face(2, 0.30, 1, 20, 20, 30, 30), // below minScore
			face(3, 0.80, 2, 40, 0, 50, 10),
		}
	}
	a := env.addAsset(t, 1, solidImage(64, 48, green))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.FaceDetection)

	faces, err := env.repo.Faces.GetFaces(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].DetScore != 0.95 || faces[1].DetScore != 0.80 {
		t.Errorf("unexpected faces kept: %+v", faces)
	}
	if faces[0].ImageWidth != 64 || faces[0].ImageHeight != 48 {
		t.Errorf("image size = %dx%d, want 64x48", faces[0].ImageWidth, faces[0].ImageHeight)
	}

	// Re-detection with force replaces the set.
	env.ml.faces = nil
	if out := env.process(t, jobs.FaceDetection, a.ID, true); out.Kind != jobs.OutcomeSuccess {
		t.Fatalf("forced detection: %+v", out)
	}
	if n := env.store.FaceCount(); n != 0 {
		t.Errorf("expected faces replaced by an empty set, got %d", n)
	}
	if !env.asset(t, a.ID).Has(database.AttributeFaces) {
		t.Error("an image without faces is still processed")
	}
}

func TestFacialRecognition(t *testing.T) {
	env := newTestEnv(t)
	env.updateSystem(t, func(c *config.SystemConfig) { c.MachineLearning.FacialRecognition.MinFaces = 3 })
	env.ml.faces = func([]byte) []fingerprint.DetectedFace {
		return []fingerprint.DetectedFace{face(0, 0.99, 0, 0, 0, 10, 10)}
	}

	var ids []string
	for i := range 3 {
		a := env.addAsset(t, i+1, solidImage(32, 32, red))
		env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.FaceDetection)
		ids = append(ids, a.ID)
	}

	ctx := context.Background()
	env.mustProcess(t, ids[0], jobs.FacialRecognition)

	people, err := env.repo.Faces.ListPeople(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(people) != 1 || people[0].FaceCount != 3 {
		t.Fatalf("expected one person with 3 faces, got %+v", people)
	}

	// Later assets join the existing person instead of creating another.
	env.mustProcess(t, ids[2], jobs.FacialRecognition)
	people, _ = env.repo.Faces.ListPeople(ctx)
	if len(people) != 1 {
		t.Errorf("expected still one person, got %d", len(people))
	}
	onAsset, _ := env.repo.Faces.GetPeopleForAsset(ctx, ids[2])
	if len(onAsset) != 1 || onAsset[0].ID != people[0].ID {
		t.Errorf("asset 3 people = %+v", onAsset)
	}
}

func TestFacialRecognition_DeferredBelowMinFaces(t *testing.T) {
	env := newTestEnv(t)
	env.updateSystem(t, func(c *config.SystemConfig) { c.MachineLearning.FacialRecognition.MinFaces = 3 })
	env.ml.faces = func([]byte) []fingerprint.DetectedFace {
		return []fingerprint.DetectedFace{face(0, 0.99, 0, 0, 0, 10, 10)}
	}

	a := env.addAsset(t, 1, solidImage(32, 32, red))
	b := env.addAsset(t, 2, solidImage(32, 32, red))
	for _, id := range []string{a.ID, b.ID} {
		env.mustProcess(t, id, jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.FaceDetection, jobs.FacialRecognition)
	}

	people, _ := env.repo.Faces.ListPeople(context.Background())
	if len(people) != 0 {
		t.Errorf("two faces are below minFaces, got %d people", len(people))
	}
	if !env.asset(t, a.ID).Has(database.AttributePeople) {
		t.Error("deferred faces still mark the asset as recognised")
	}
}

func TestFacialRecognition_SmallClusterJoinsNearbyPerson(t *testing.T) {
	env := newTestEnv(t)
	env.updateSystem(t, func(c *config.SystemConfig) { c.MachineLearning.FacialRecognition.MinFaces = 1 })
	env.ml.faces = oneFace

	a := env.addAsset(t, 1, solidImage(32, 32, red))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.FaceDetection, jobs.FacialRecognition)

	// Two faces are now too few to form a person, but one of them has a person already.
	env.updateSystem(t, func(c *config.SystemConfig) { c.MachineLearning.FacialRecognition.MinFaces = 3 })
	b := env.addAsset(t, 2, solidImage(32, 32, red))
	env.mustProcess(t, b.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.FaceDetection, jobs.FacialRecognition)

	ctx := context.Background()
	people, _ := env.repo.Faces.ListPeople(ctx)
	if len(people) != 1 || people[0].FaceCount != 2 {
		t.Fatalf("expected the second face to join the first person, got %+v", people)
	}
	onAsset, _ := env.repo.Faces.GetPeopleForAsset(ctx, b.ID)
	if len(onAsset) != 1 || onAsset[0].ID != people[0].ID {
		t.Errorf("asset b people = %+v", onAsset)
	}
}

func TestDuplicateDetection(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(32, 32, red))
	b := env.addAsset(t, 2, solidImage(32, 32, red))
	c := env.addAsset(t, 3, solidImage(32, 32, blue))

	chain := []jobs.JobName{jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.SmartSearch}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		env.mustProcess(t, id, chain...)
	}
	for _, id := range []string{a.ID, c.ID} {
		env.mustProcess(t, id, jobs.DuplicateDetection)
	}

	gotA, gotB, gotC := env.asset(t, a.ID), env.asset(t, b.ID), env.asset(t, c.ID)
	if gotA.DuplicateID == nil || gotB.DuplicateID == nil || *gotA.DuplicateID != *gotB.DuplicateID {
		t.Fatalf("a and b should share a duplicate id, got %v and %v", gotA.DuplicateID, gotB.DuplicateID)
	}
	if gotC.DuplicateID != nil {
		t.Errorf("c has no duplicates, got %s", *gotC.DuplicateID)
	}
	if !gotC.Has(database.AttributeDuplicates) {
		t.Error("c should be marked even without matches")
	}

	members, err := env.repo.Assets.GetDuplicateMembers(context.Background(), *gotA.DuplicateID)
	if err != nil || len(members) != 2 {
		t.Errorf("members = %v, %v", members, err)
	}
}

func TestDuplicateDetection_PartnerLeavesPair(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(32, 32, red))
	b := env.addAsset(t, 2, solidImage(32, 32, red))

	chain := []jobs.JobName{jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.SmartSearch, jobs.DuplicateDetection}
	for _, id := range []string{a.ID, b.ID} {
		env.mustProcess(t, id, chain...)
	}
	if env.asset(t, a.ID).DuplicateID == nil {
		t.Fatal("a and b should start out grouped")
	}

	env.replaceOriginal(t, b, solidImage(32, 32, green))
	for _, name := range chain[1:] {
		if out := env.process(t, name, b.ID, true); out.Kind != jobs.OutcomeSuccess {
			t.Fatalf("forced %s on b: %+v", name, out)
		}
	}

	if dup := env.asset(t, b.ID).DuplicateID; dup != nil {
		t.Errorf("b no longer matches, got group %s", *dup)
	}
	if dup := env.asset(t, a.ID).DuplicateID; dup != nil {
		t.Errorf("a is alone and should leave the group, got %s", *dup)
	}
}

func TestDuplicateDetection_StoreError(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAsset(t, 1, solidImage(32, 32, red))
	env.mustProcess(t, a.ID, jobs.MetadataExtraction, jobs.ThumbnailGeneration, jobs.SmartSearch)
	env.store.FindSimilarError = errors.New("index offline")

	out := env.process(t, jobs.DuplicateDetection, a.ID, false)
	if out.Kind != jobs.OutcomeFailed || !strings.Contains(out.Reason, "index offline") {
		t.Errorf("expected failure, got %+v", out)
	}
}
