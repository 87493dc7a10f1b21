package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte("GIF89a.."), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"too short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"unknown", []byte("plain text"), "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.want {
				t.Errorf("detectMIMEType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClient_ComputeEmbedding(t *testing.T) {
	imgData := encodeJPEG(createGradientImage(20, 20))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/image" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part content type = %s, want image/jpeg", ct)
		}
		body, _ := io.ReadAll(file)
		if len(body) != len(imgData) {
			t.Errorf("server received %d bytes, want %d", len(body), len(imgData))
		}
		json.NewEncoder(w).Encode(embeddingResponse{Dim: 3, Embedding: []float32{0.1, 0.2, 0.3}, Model: "ViT-B-32"})
	}))
	defer srv.Close()

	emb, err := NewClient(srv.URL+"/").ComputeEmbedding(context.Background(), imgData)
	if err != nil {
		t.Fatalf("ComputeEmbedding failed: %v", err)
	}
	if len(emb) != 3 || emb[2] != 0.3 {
		t.Errorf("unexpected embedding %v", emb)
	}
}

func TestClient_ComputeTextEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req textEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Text != "a dog on a beach" {
			t.Errorf("text = %q", req.Text)
		}
		json.NewEncoder(w).Encode(embeddingResponse{Embedding: []float32{1, 0}})
	}))
	defer srv.Close()

	emb, err := NewClient(srv.URL).ComputeTextEmbedding(context.Background(), "a dog on a beach")
	if err != nil {
		t.Fatalf("ComputeTextEmbedding failed: %v", err)
	}
	if len(emb) != 2 {
		t.Errorf("unexpected embedding %v", emb)
	}
}

func TestClient_DetectFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(faceResponse{
			FacesCount: 2,
			Model:      "buffalo_l",
			Faces: []faceDetection{
				{FaceIndex: 0, BBox: []float64{10, 10, 50, 60}, DetScore: 0.98, Embedding: []float32{1, 0}},
				{FaceIndex: 1, BBox: []float64{70, 10, 90, 40}, DetScore: 0.51, Embedding: []float32{0, 1}},
			},
		})
	}))
	defer srv.Close()

	faces, err := NewClient(srv.URL).DetectFaces(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].Score != 0.98 || faces[1].Index != 1 || faces[1].Model != "buffalo_l" {
		t.Errorf("unexpected faces %+v", faces)
	}
}

func TestClient_DetectFaces_MalformedBBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"faces_count":1,"faces":[{"face_index":0,"bbox":[1,2]}]}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).DetectFaces(context.Background(), []byte("img")); err == nil {
		t.Error("expected error for malformed bbox")
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		wantUnavailable bool
	}{
		{"server error", http.StatusInternalServerError, "boom", true},
		{"bad gateway", http.StatusBadGateway, "", true},
		{"bad request", http.StatusBadRequest, "invalid image", false},
		{"empty embedding", http.StatusOK, `{"embedding":[]}`, false},
		{"dim mismatch", http.StatusOK, `{"dim":4,"embedding":[1,2]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).ComputeEmbedding(context.Background(), []byte("img"))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInferenceUnavailable); got != tt.wantUnavailable {
				t.Errorf("errors.Is(ErrInferenceUnavailable) = %v, want %v (err: %v)", got, tt.wantUnavailable, err)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).ComputeTextEmbedding(context.Background(), "x")
	if !errors.Is(err, ErrInferenceUnavailable) {
		t.Errorf("expected ErrInferenceUnavailable, got %v", err)
	}
}
