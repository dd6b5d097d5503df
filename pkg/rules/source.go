package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source provides rule configuration to the Loader. Implementations load
// from the external store, from a file, or from memory (tests).
type Source interface {
	// Load returns the full detection and alert rule lists.
	Load(ctx context.Context) ([]*DetectionRule, []*AlertRule, error)
}

// ruleFile is the YAML document shape for file-based rule configuration.
type ruleFile struct {
	DetectionRules []*DetectionRule `yaml:"detection_rules"`
	AlertRules     []*AlertRule     `yaml:"alert_rules"`
}

// FileSource loads rules from a YAML file on disk.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a file-based rule source.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		logger: logger.With("component", "rules.source"),
	}
}

// Path returns the watched file path.
func (s *FileSource) Path() string {
	return s.path
}

// Load reads and parses the rule file.
func (s *FileSource) Load(ctx context.Context) ([]*DetectionRule, []*AlertRule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rules file %q: %w", s.path, err)
	}

	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse rules file %q: %w", s.path, err)
	}

	s.logger.Debug("loaded rules from file",
		"path", s.path,
		"detection_rules", len(doc.DetectionRules),
		"alert_rules", len(doc.AlertRules),
	)

	return doc.DetectionRules, doc.AlertRules, nil
}

// MemorySource serves a fixed rule list. Intended for tests and for callers
// that manage rule records themselves.
type MemorySource struct {
	mu        sync.RWMutex
	detection []*DetectionRule
	alerts    []*AlertRule
}

// NewMemorySource creates a memory-backed rule source.
func NewMemorySource(detection []*DetectionRule, alerts []*AlertRule) *MemorySource {
	return &MemorySource{detection: detection, alerts: alerts}
}

// Load returns the current rule lists.
func (s *MemorySource) Load(ctx context.Context) ([]*DetectionRule, []*AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	detection := make([]*DetectionRule, len(s.detection))
	copy(detection, s.detection)
	alerts := make([]*AlertRule, len(s.alerts))
	copy(alerts, s.alerts)
	return detection, alerts, nil
}

// SetRules replaces the rule lists served by the source.
func (s *MemorySource) SetRules(detection []*DetectionRule, alerts []*AlertRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detection = detection
	s.alerts = alerts
}
