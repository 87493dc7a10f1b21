package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/database/mock"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/kozaktomas/photo-jobs/internal/storage"
)

var (
	red   = color.RGBA{220, 20, 20, 255}
	green = color.RGBA{20, 220, 20, 255}
	blue  = color.RGBA{20, 20, 220, 255}
)

// fakeML derives embeddings from the average colour of the submitted image so
// identical pictures land on identical vectors. Faces are scripted per test.
type fakeML struct {
	mu         sync.Mutex
	embedCalls int
	faceCalls  int
	err        error
	faces      func(data []byte) []fingerprint.DetectedFace
}

func (f *fakeML) ComputeEmbedding(_ context.Context, data []byte) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var r, g, b float64
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			r += float64(cr)
			g += float64(cg)
			b += float64(cb)
		}
	}
	return []float32{float32(r), float32(g), float32(b)}, nil
}

func (f *fakeML) DetectFaces(_ context.Context, data []byte) ([]fingerprint.DetectedFace, error) {
	f.mu.Lock()
	f.faceCalls++
	err := f.err
	faces := f.faces
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if faces == nil {
		return nil, nil
	}
	return faces(data), nil
}

func (f *fakeML) calls() (embed, faces int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls, f.faceCalls
}

type testEnv struct {
	store    *mock.Store
	repo     database.Repository
	files    *storage.Local
	ml       *fakeML
	system   *config.SystemConfigStore
	registry jobs.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	store := mock.NewStore()
	env := &testEnv{
		store:  store,
		repo:   store.Repository(),
		files:  files,
		ml:     &fakeML{},
		system: config.NewSystemConfigStore(config.DefaultSystemConfig(), ""),
	}
	env.registry = NewRegistry(Deps{
		Repo:    env.repo,
		Storage: files,
		ML:      env.ml,
		System:  env.system,
	})
	return env
}

func assetID(n int) string {
	return fmt.Sprintf("%08d-0000-4000-8000-000000000000", n)
}

// addAsset stores an original and registers the asset with no derived attributes.
func (e *testEnv) addAsset(t *testing.T, n int, img image.Image) *database.Asset {
	t.Helper()
	return e.addAssetData(t, n, encodeJPEG(t, img))
}

func (e *testEnv) addAssetData(t *testing.T, n int, data []byte) *database.Asset {
	t.Helper()
	id := assetID(n)
	path := storage.OriginalPath("owner", id, "photo.jpg")
	if err := e.files.Write(context.Background(), path, data); err != nil {
		t.Fatalf("write original: %v", err)
	}
	asset := database.Asset{
		ID:               id,
		OwnerID:          "owner",
		OriginalPath:     path,
		OriginalFileName: "photo.jpg",
		Checksum:         storage.Checksum(data),
		Type:             database.AssetTypeImage,
		Exif:             &database.ExifInfo{},
		CreatedAt:        time.Now(),
	}
	e.store.AddAsset(asset)
	return &asset
}

// replaceOriginal overwrites the original bytes of an asset in place.
func (e *testEnv) replaceOriginal(t *testing.T, asset *database.Asset, img image.Image) {
	t.Helper()
	if err := e.files.Write(context.Background(), asset.OriginalPath, encodeJPEG(t, img)); err != nil {
		t.Fatalf("replace original: %v", err)
	}
}

func (e *testEnv) process(t *testing.T, name jobs.JobName, id string, force bool) jobs.Outcome {
	t.Helper()
	h, err := e.registry.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%s) failed: %v", name, err)
	}
	return h.Process(context.Background(), &queue.Task{ID: "t-" + id, Queue: string(name), AssetID: id, Force: force})
}

// mustProcess runs the chain of handlers up to and including name.
func (e *testEnv) mustProcess(t *testing.T, id string, names ...jobs.JobName) {
	t.Helper()
	for _, name := range names {
		if out := e.process(t, name, id, false); out.Kind != jobs.OutcomeSuccess {
			t.Fatalf("%s on %s: %+v", name, id, out)
		}
	}
}

func (e *testEnv) asset(t *testing.T, id string) *database.Asset {
	t.Helper()
	a, err := e.repo.Assets.GetAsset(context.Background(), id)
	if err != nil || a == nil {
		t.Fatalf("GetAsset(%s) = %v, %v", id, a, err)
	}
	return a
}

func (e *testEnv) updateSystem(t *testing.T, fn func(*config.SystemConfig)) {
	t.Helper()
	cfg := e.system.Get()
	fn(&cfg)
	if err := e.system.Update(cfg); err != nil {
		t.Fatalf("update system config: %v", err)
	}
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// withMake inserts an APP1 segment whose only EXIF tag is the camera make.
func withMake(jpg []byte, cameraMake string) []byte {
	le := binary.LittleEndian
	value := append([]byte(cameraMake), 0)

	tif := []byte{'I', 'I', 0x2A, 0x00}
	tif = le.AppendUint32(tif, 8)
	tif = le.AppendUint16(tif, 1)
	tif = le.AppendUint16(tif, 0x010F)
	tif = le.AppendUint16(tif, 2)
	tif = le.AppendUint32(tif, uint32(len(value)))
	tif = le.AppendUint32(tif, 8+2+12+4)
	tif = le.AppendUint32(tif, 0)
	tif = append(tif, value...)

	payload := append([]byte("Exif\x00\x00"), tif...)
	seg := []byte{0xFF, 0xE1}
	seg = binary.BigEndian.AppendUint16(seg, uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

// face returns a detection with a one-hot embedding along axis.
func face(index int, score float64, axis int, bbox ...float64) fingerprint.DetectedFace {
	emb := make([]float32, 8)
	emb[axis] = 1
	return fingerprint.DetectedFace{Index: index, BBox: bbox, Score: score, Embedding: emb, Model: "buffalo_l"}
}
