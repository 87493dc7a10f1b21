package fingerprint

import "errors"

// ErrInferenceUnavailable is returned when the ML server cannot be reached or fails.
var ErrInferenceUnavailable = errors.New("inference unavailable")

// DetectedFace is a face found by the ML server.
type DetectedFace struct {
	Index     int
	BBox      []float64 // [x1, y1, x2, y2] in pixels of the submitted image
	Score     float64
	Embedding []float32
	Model     string
}

// embeddingResponse represents the response from the embedding endpoints
type embeddingResponse struct {
	Dim        int       `json:"dim"`
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Pretrained string    `json:"pretrained"`
}

// textEmbeddingRequest represents the request body for text embedding
type textEmbeddingRequest struct {
	Text string `json:"text"`
}

type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}
