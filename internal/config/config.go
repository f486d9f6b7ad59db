// Package config implements the Configuration Store (C1): it loads cameras,
// per-camera ROI, and system settings, validates them, and exposes a single
// read-only Config snapshot. There is no live-editing path — see WatchForDrift for
// what happens when the files change after startup.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/window"
)

// CameraConfig is immutable per run; identity is CameraID.
type CameraConfig struct {
	CameraID    string `yaml:"-"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	StreamPath  string `yaml:"stream_path"`
	Resolution  string `yaml:"resolution"`
	Enabled     bool   `yaml:"enabled"`
	DisplayName string `yaml:"display_name"`
	Transport   string `yaml:"transport"` // "tcp" (default) or "udp"
}

// RTSPURL builds rtsp://<user>:<pw>@<host>:<port><stream_path> per §6.
func (c CameraConfig) RTSPURL() string {
	return fmt.Sprintf("rtsp://%s:%s@%s:%d%s", c.Username, c.Password, c.Host, c.Port, c.StreamPath)
}

type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type Polygon struct {
	Vertices []Point `yaml:"vertices"`
}

func (p Polygon) valid() bool { return len(p.Vertices) >= 3 }

type Table struct {
	ID       string  `yaml:"id"`
	Polygon  Polygon `yaml:"polygon"`
}

type SittingArea struct {
	TableID string  `yaml:"table_id"`
	Polygon Polygon `yaml:"polygon"`
}

type ServiceArea struct {
	Polygon Polygon `yaml:"polygon"`
}

// ROIConfig is the per-camera region-of-interest definition. FrameWidth and
// FrameHeight record the reference frame size used when the polygons were
// drawn; the external analysis runner rescales against the actual frame.
type ROIConfig struct {
	FrameWidth   int           `yaml:"frame_width"`
	FrameHeight  int           `yaml:"frame_height"`
	Division     Polygon       `yaml:"division"`
	Tables       []Table       `yaml:"tables"`
	SittingAreas []SittingArea `yaml:"sitting_areas"`
	ServiceAreas []ServiceArea `yaml:"service_areas"`
}

type GPUSettings struct {
	SampleIntervalSeconds int `yaml:"sample_interval_seconds"`
	MinWorkers            int `yaml:"min_workers"`
	MaxWorkers            int `yaml:"max_workers"`
	ScaleCooldownSeconds  int `yaml:"scale_cooldown_seconds"`
	EmergencyPauseSeconds int `yaml:"emergency_pause_seconds"`
	TempScaleUpMax        int `yaml:"temp_scale_up_max"`
	UtilScaleUpMax        int `yaml:"util_scale_up_max"`
	FreeGBScaleUpMin      int `yaml:"free_gb_scale_up_min"`
	TempScaleDownMin      int `yaml:"temp_scale_down_min"`
	UtilScaleDownMin      int `yaml:"util_scale_down_min"`
	FreeGBScaleDownMax    int `yaml:"free_gb_scale_down_max"`
	TempEmergency         int `yaml:"temp_emergency"`
}

type EventBufferSettings struct {
	BatchSize int `yaml:"batch_size"`
}

type CloudSyncSettings struct {
	IntervalSeconds  int `yaml:"interval_seconds"`
	BatchSize        int `yaml:"batch_size"`
	RetentionHours   int `yaml:"retention_hours"`
	LookbackHours    int `yaml:"lookback_hours"`
	BatchTimeoutMs   int `yaml:"batch_timeout_ms"`
}

type SystemSettings struct {
	CaptureWindows       []window.Capture    `yaml:"capture_windows"`
	ProcessingWindow      window.Processing   `yaml:"processing_window"`
	SegmentLengthSeconds  int                 `yaml:"segment_length_seconds"`
	FinalizationBudgetSec int                 `yaml:"finalization_budget_seconds"`
	SchedulerTickSeconds  int                 `yaml:"scheduler_tick_seconds"`
	GPU                   GPUSettings         `yaml:"gpu"`
	EventBuffer           EventBufferSettings `yaml:"event_buffer"`
	CloudSync             CloudSyncSettings   `yaml:"cloud_sync"`
}

// Config is the single read-only snapshot shared across every component.
type Config struct {
	Cameras  map[string]CameraConfig
	ROI      map[string]ROIConfig
	Settings SystemSettings
}

type camerasFile struct {
	Cameras map[string]CameraConfig `yaml:"cameras"`
}

// Load reads cameras.yaml, roi/<camera_id>.yaml (or the legacy single
// roi.json, migrated by aliasing it to the first enabled camera - see
// DESIGN.md's Open Question decision), and settings.yaml from dir, then
// validates everything. Any failure is returned as-is; the caller logs it
// and refuses to start.
func Load(dir string) (*Config, error) {
	var cf camerasFile
	if err := readYAML(filepath.Join(dir, "cameras.yaml"), &cf); err != nil {
		return nil, fmt.Errorf("loading cameras.yaml: %w", err)
	}
	cameras := make(map[string]CameraConfig, len(cf.Cameras))
	for id, c := range cf.Cameras {
		c.CameraID = id
		if c.Transport == "" {
			c.Transport = "tcp"
		}
		cameras[id] = c
	}

	roi, err := loadROI(dir, cameras)
	if err != nil {
		return nil, fmt.Errorf("loading roi config: %w", err)
	}

	var settings SystemSettings
	if err := readYAML(filepath.Join(dir, "settings.yaml"), &settings); err != nil {
		return nil, fmt.Errorf("loading settings.yaml: %w", err)
	}
	applySettingsDefaults(&settings)

	cfg := &Config{Cameras: cameras, ROI: roi, Settings: settings}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applySettingsDefaults(s *SystemSettings) {
	if s.SegmentLengthSeconds == 0 {
		s.SegmentLengthSeconds = 60
	}
	if s.FinalizationBudgetSec == 0 {
		s.FinalizationBudgetSec = 30
	}
	if s.SchedulerTickSeconds == 0 {
		s.SchedulerTickSeconds = 30
	}
	if s.GPU.SampleIntervalSeconds == 0 {
		s.GPU.SampleIntervalSeconds = 30
	}
	if s.GPU.MinWorkers == 0 {
		s.GPU.MinWorkers = 1
	}
	if s.GPU.MaxWorkers == 0 {
		s.GPU.MaxWorkers = 6
	}
	if s.GPU.ScaleCooldownSeconds == 0 {
		s.GPU.ScaleCooldownSeconds = 60
	}
	if s.GPU.EmergencyPauseSeconds == 0 {
		s.GPU.EmergencyPauseSeconds = 120
	}
	if s.GPU.TempScaleUpMax == 0 {
		s.GPU.TempScaleUpMax = 70
	}
	if s.GPU.UtilScaleUpMax == 0 {
		s.GPU.UtilScaleUpMax = 70
	}
	if s.GPU.FreeGBScaleUpMin == 0 {
		s.GPU.FreeGBScaleUpMin = 2
	}
	if s.GPU.TempScaleDownMin == 0 {
		s.GPU.TempScaleDownMin = 75
	}
	if s.GPU.UtilScaleDownMin == 0 {
		s.GPU.UtilScaleDownMin = 85
	}
	if s.GPU.FreeGBScaleDownMax == 0 {
		s.GPU.FreeGBScaleDownMax = 1
	}
	if s.GPU.TempEmergency == 0 {
		s.GPU.TempEmergency = 80
	}
	if s.EventBuffer.BatchSize == 0 {
		s.EventBuffer.BatchSize = 100
	}
	if s.CloudSync.IntervalSeconds == 0 {
		s.CloudSync.IntervalSeconds = 3600
	}
	if s.CloudSync.BatchSize == 0 {
		s.CloudSync.BatchSize = 500
	}
	if s.CloudSync.RetentionHours == 0 {
		s.CloudSync.RetentionHours = 24
	}
	if s.CloudSync.LookbackHours == 0 {
		s.CloudSync.LookbackHours = 2
	}
	if s.CloudSync.BatchTimeoutMs == 0 {
		s.CloudSync.BatchTimeoutMs = 10_000
	}
}

func (c *Config) validate() error {
	for id, cam := range c.Cameras {
		if net.ParseIP(cam.Host) == nil {
			// Hostnames are allowed too (DNS), only reject obviously malformed
			// dotted-quads; a full resolver round trip doesn't belong at load time.
			if cam.Host == "" {
				return fmt.Errorf("camera %s: empty host", id)
			}
			if strings.Trim(cam.Host, "0123456789.") == "" {
				return fmt.Errorf("camera %s: malformed IP address %q", id, cam.Host)
			}
		}
		if cam.Port <= 0 || cam.Port > 65535 {
			return fmt.Errorf("camera %s: port %d out of range", id, cam.Port)
		}
	}

	for id, roi := range c.ROI {
		if _, ok := c.Cameras[id]; !ok {
			return fmt.Errorf("roi file references unknown camera %s", id)
		}
		if !roi.Division.valid() {
			return fmt.Errorf("camera %s: division polygon needs >= 3 vertices", id)
		}
		tableIDs := make(map[string]bool, len(roi.Tables))
		for _, t := range roi.Tables {
			if !t.Polygon.valid() {
				return fmt.Errorf("camera %s: table %s polygon needs >= 3 vertices", id, t.ID)
			}
			tableIDs[t.ID] = true
		}
		for _, sa := range roi.SittingAreas {
			if !sa.Polygon.valid() {
				return fmt.Errorf("camera %s: sitting area polygon needs >= 3 vertices", id)
			}
			if !tableIDs[sa.TableID] {
				return fmt.Errorf("camera %s: sitting area references unknown table %s", id, sa.TableID)
			}
		}
		for _, svc := range roi.ServiceAreas {
			if !svc.Polygon.valid() {
				return fmt.Errorf("camera %s: service area polygon needs >= 3 vertices", id)
			}
		}
	}

	return window.ValidateCaptureWindows(c.Settings.CaptureWindows)
}

// EnabledCameras returns the cameras with Enabled=true, in a stable order.
func (c *Config) EnabledCameras() []CameraConfig {
	var out []CameraConfig
	for _, cam := range c.Cameras {
		if cam.Enabled {
			out = append(out, cam)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func loadROI(dir string, cameras map[string]CameraConfig) (map[string]ROIConfig, error) {
	roiDir := filepath.Join(dir, "roi")
	entries, err := os.ReadDir(roiDir)
	if os.IsNotExist(err) {
		return migrateLegacyROI(dir, cameras)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]ROIConfig, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := trimYAMLExt(e.Name())
		var roi ROIConfig
		if err := readYAML(filepath.Join(roiDir, e.Name()), &roi); err != nil {
			return nil, fmt.Errorf("roi/%s: %w", e.Name(), err)
		}
		out[id] = roi
	}
	return out, nil
}

// migrateLegacyROI aliases a single legacy roi.json to the first enabled
// camera, per the Open Question decision recorded in DESIGN.md: silent
// acceptance, logged once as a warning at load time.
func migrateLegacyROI(dir string, cameras map[string]CameraConfig) (map[string]ROIConfig, error) {
	legacyPath := filepath.Join(dir, "roi.json")
	if _, err := os.Stat(legacyPath); os.IsNotExist(err) {
		return map[string]ROIConfig{}, nil
	}

	var target string
	for id, cam := range cameras {
		if cam.Enabled {
			target = id
			break
		}
	}
	if target == "" {
		return nil, fmt.Errorf("legacy roi.json present but no enabled camera to alias it to")
	}

	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil, err
	}
	var roi ROIConfig
	if err := jsonUnmarshalROI(data, &roi); err != nil {
		return nil, err
	}
	logging.For("config").Warn().Str("camera_id", target).Msg("legacy roi.json aliased to the first enabled camera")
	return map[string]ROIConfig{target: roi}, nil
}

func trimYAMLExt(name string) string {
	for _, ext := range []string{".yaml", ".yml"} {
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// legacyROI mirrors the pre-multi-camera roi.json shape (flat point lists
// keyed by name instead of the YAML layout's nested polygons).
type legacyROI struct {
	FrameWidth   int              `json:"frame_width"`
	FrameHeight  int              `json:"frame_height"`
	Division     [][2]float64     `json:"division"`
	Tables       map[string][][2]float64 `json:"tables"`
	SittingAreas map[string][2]float64   `json:"sitting_areas"`
	ServiceAreas [][][2]float64  `json:"service_areas"`
}

func jsonUnmarshalROI(data []byte, out *ROIConfig) error {
	var legacy legacyROI
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	out.FrameWidth = legacy.FrameWidth
	out.FrameHeight = legacy.FrameHeight
	out.Division = Polygon{Vertices: toPoints(legacy.Division)}
	for id, verts := range legacy.Tables {
		out.Tables = append(out.Tables, Table{ID: id, Polygon: Polygon{Vertices: toPoints(verts)}})
	}
	for tableID, pt := range legacy.SittingAreas {
		// Legacy format stored a single anchor point per table rather than a
		// polygon; expand it into a degenerate triangle so downstream code
		// that expects >=3 vertices still has something to validate against.
		anchor := Point{X: pt[0], Y: pt[1]}
		out.SittingAreas = append(out.SittingAreas, SittingArea{
			TableID: tableID,
			Polygon: Polygon{Vertices: []Point{anchor, anchor, anchor}},
		})
	}
	for _, verts := range legacy.ServiceAreas {
		out.ServiceAreas = append(out.ServiceAreas, ServiceArea{Polygon: Polygon{Vertices: toPoints(verts)}})
	}
	return nil
}

func toPoints(raw [][2]float64) []Point {
	pts := make([]Point, len(raw))
	for i, p := range raw {
		pts[i] = Point{X: p[0], Y: p[1]}
	}
	return pts
}
