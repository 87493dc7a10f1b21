package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/photo-jobs/internal/database"
)

const testAssetID = "0a1b2c3d-0000-4000-8000-000000000001"

func getAsset(t *testing.T, env *testEnv, id string) *httptest.ResponseRecorder {
	t.Helper()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+id, nil), map[string]string{"id": id})
	rec := httptest.NewRecorder()
	NewAssetsHandler(env.repo).Get(rec, req)
	return rec
}

func TestAssetsHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	dup := "group-1"
	env.db.AddAsset(database.Asset{
		ID:          testAssetID,
		OwnerID:     "alice",
		Checksum:    "abc",
		Thumbhash:   []byte{1, 2, 3},
		DuplicateID: &dup,
		Exif:        &database.ExifInfo{},
		JobStatus: map[database.Attribute]database.AttributeStatus{
			database.AttributeFaces: {SourceChecksum: "abc"},
		},
	})
	env.db.AddFaces(testAssetID, []database.StoredFace{
		{FaceIndex: 0, BBox: []float64{1, 2, 3, 4}, DetScore: 0.9, ImageWidth: 100, ImageHeight: 80},
	})

	rec := getAsset(t, env, testAssetID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "exifInfo", "thumbhash", "duplicateId", "people", "unassignedFaces", "jobStatus"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response is missing %s", key)
		}
	}

	resp := decodeBody[AssetResponse](t, rec)
	if resp.UnassignedFaces == nil || len(*resp.UnassignedFaces) != 1 {
		t.Fatalf("expected one unassigned face, got %v", resp.UnassignedFaces)
	}
	if f := (*resp.UnassignedFaces)[0]; f.Score != 0.9 || f.ImageWidth != 100 {
		t.Errorf("unexpected face %+v", f)
	}
	if string(body["thumbhash"]) != `"AQID"` {
		t.Errorf("thumbhash = %s", body["thumbhash"])
	}
}

func TestAssetsHandler_GetBeforeFaceDetection(t *testing.T) {
	env := newTestEnv(t)
	env.db.AddAsset(database.Asset{ID: testAssetID, Exif: &database.ExifInfo{}})

	rec := getAsset(t, env, testAssetID)
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["unassignedFaces"]; ok {
		t.Error("unassignedFaces should be omitted before face detection")
	}
	if string(body["people"]) != "[]" {
		t.Errorf("people = %s, want []", body["people"])
	}
	if string(body["duplicateId"]) != "null" {
		t.Errorf("duplicateId = %s, want null", body["duplicateId"])
	}
}

func TestAssetsHandler_GetListsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	dup := "group-1"
	other := "0a1b2c3d-0000-4000-8000-000000000002"
	for _, id := range []string{testAssetID, other} {
		env.db.AddAsset(database.Asset{ID: id, DuplicateID: &dup, Exif: &database.ExifInfo{}})
	}

	rec := getAsset(t, env, testAssetID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[AssetResponse](t, rec)
	if len(resp.Duplicates) != 1 || resp.Duplicates[0] != other {
		t.Errorf("duplicates = %v, want [%s]", resp.Duplicates, other)
	}
}

func TestAssetsHandler_GetErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{"malformed id", "not-a-uuid", http.StatusBadRequest},
		{"unknown asset", testAssetID, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := getAsset(t, env, tt.id); rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
