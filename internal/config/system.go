package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed system_defaults.yaml
var systemDefaultsYAML []byte

// SystemConfig holds runtime-tunable feature toggles and thresholds.
// Unlike Config it can change while the server is running.
type SystemConfig struct {
	MachineLearning MachineLearningConfig `yaml:"machineLearning" json:"machineLearning"`
	Image           ImageConfig           `yaml:"image" json:"image"`
}

type MachineLearningConfig struct {
	Enabled            bool                     `yaml:"enabled" json:"enabled"`
	Clip               ClipConfig               `yaml:"clip" json:"clip"`
	DuplicateDetection DuplicateDetectionConfig `yaml:"duplicateDetection" json:"duplicateDetection"`
	FacialRecognition  FacialRecognitionConfig  `yaml:"facialRecognition" json:"facialRecognition"`
}

type ClipConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	ModelName string `yaml:"modelName" json:"modelName"`
}

type DuplicateDetectionConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	MaxDistance float64 `yaml:"maxDistance" json:"maxDistance"`
}

type FacialRecognitionConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ModelName   string  `yaml:"modelName" json:"modelName"`
	MinScore    float64 `yaml:"minScore" json:"minScore"`
	MaxDistance float64 `yaml:"maxDistance" json:"maxDistance"`
	MinFaces    int     `yaml:"minFaces" json:"minFaces"`
}

type ImageConfig struct {
	PreviewSize   int `yaml:"previewSize" json:"previewSize"`
	ThumbnailSize int `yaml:"thumbnailSize" json:"thumbnailSize"`
	Quality       int `yaml:"quality" json:"quality"`
}

// SmartSearchEnabled reports whether embeddings may be computed.
func (c *SystemConfig) SmartSearchEnabled() bool {
	return c.MachineLearning.Enabled && c.MachineLearning.Clip.Enabled
}

// DuplicateDetectionEnabled reports whether duplicate detection may run.
// Duplicates are found by comparing embeddings, so smart search must be enabled too.
func (c *SystemConfig) DuplicateDetectionEnabled() bool {
	return c.SmartSearchEnabled() && c.MachineLearning.DuplicateDetection.Enabled
}

// FacialRecognitionEnabled reports whether face detection and recognition may run.
func (c *SystemConfig) FacialRecognitionEnabled() bool {
	return c.MachineLearning.Enabled && c.MachineLearning.FacialRecognition.Enabled
}

// Validate checks thresholds for values the job handlers cannot work with.
func (c *SystemConfig) Validate() error {
	ml := c.MachineLearning
	if ml.DuplicateDetection.MaxDistance < 0 || ml.DuplicateDetection.MaxDistance > 2 {
		return fmt.Errorf("duplicateDetection.maxDistance must be within [0, 2], got %v", ml.DuplicateDetection.MaxDistance)
	}
	if ml.FacialRecognition.MaxDistance < 0 || ml.FacialRecognition.MaxDistance > 2 {
		return fmt.Errorf("facialRecognition.maxDistance must be within [0, 2], got %v", ml.FacialRecognition.MaxDistance)
	}
	if ml.FacialRecognition.MinScore < 0 || ml.FacialRecognition.MinScore > 1 {
		return fmt.Errorf("facialRecognition.minScore must be within [0, 1], got %v", ml.FacialRecognition.MinScore)
	}
	if ml.FacialRecognition.MinFaces < 1 {
		return errors.New("facialRecognition.minFaces must be at least 1")
	}
	if c.Image.PreviewSize <= 0 || c.Image.ThumbnailSize <= 0 {
		return errors.New("image sizes must be positive")
	}
	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be within [1, 100], got %d", c.Image.Quality)
	}
	return nil
}

// DefaultSystemConfig returns the embedded defaults.
func DefaultSystemConfig() SystemConfig {
	var cfg SystemConfig
	if err := yaml.Unmarshal(systemDefaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded system_defaults.yaml: " + err.Error())
	}
	return cfg
}

// LoadSystemConfig reads the defaults and overlays the YAML file at path, if any.
func LoadSystemConfig(path string) (SystemConfig, error) {
	cfg := DefaultSystemConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading system config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing system config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid system config %s: %w", path, err)
	}
	return cfg, nil
}

// SystemConfigStore guards the live system config.
// When backed by a file, Get picks up writes made by other processes sharing it.
type SystemConfigStore struct {
	mu    sync.RWMutex
	cfg   SystemConfig
	path  string // persisted on Update when set
	stamp fileStamp
}

// fileStamp identifies one version of the config file.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func statStamp(path string) (fileStamp, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{modTime: fi.ModTime(), size: fi.Size()}, true
}

// NewSystemConfigStore wraps cfg. When path is non-empty updates are written back to it.
func NewSystemConfigStore(cfg SystemConfig, path string) *SystemConfigStore {
	s := &SystemConfigStore{cfg: cfg, path: path}
	if path != "" {
		s.stamp, _ = statStamp(path)
	}
	return s
}

// Get returns a copy of the current config.
func (s *SystemConfigStore) Get() SystemConfig {
	if s.path != "" {
		s.refresh()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// refresh reloads the file when it changed since it was last read or written.
// A broken file keeps the current config.
func (s *SystemConfigStore) refresh() {
	stamp, ok := statStamp(s.path)
	if !ok {
		return
	}
	s.mu.RLock()
	unchanged := stamp == s.stamp
	s.mu.RUnlock()
	if unchanged {
		return
	}

	cfg, err := LoadSystemConfig(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp = stamp
	if err != nil {
		logrus.WithError(err).Warn("keeping previous system config")
		return
	}
	s.cfg = cfg
}

// Update validates and replaces the current config.
func (s *SystemConfigStore) Update(cfg SystemConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("encoding system config: %w", err)
		}
		if err := os.WriteFile(s.path, data, 0o600); err != nil {
			return fmt.Errorf("writing system config %s: %w", s.path, err)
		}
		s.stamp, _ = statStamp(s.path)
	}
	s.cfg = cfg
	return nil
}
