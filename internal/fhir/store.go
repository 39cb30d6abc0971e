// Package fhir reads patient record bundles exported one-file-per-patient
// (Coherent style: Given123_Family456_<uuid>.json) and answers resource
// queries against them.
package fhir

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Bundle is a FHIR document bundle. Resources stay as generic maps because
// exporters disagree on which optional fields they emit.
type Bundle struct {
	ResourceType string  `json:"resourceType"`
	Entry        []Entry `json:"entry"`
}

// Entry wraps a single resource inside a bundle.
type Entry struct {
	Resource map[string]interface{} `json:"resource"`
}

// Patient identifies one patient file in the store.
type Patient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender,omitempty"`
	File   string `json:"-"`
}

// Store serves patient bundles from a directory of JSON exports.
type Store struct {
	dir    string
	logger *log.Logger

	mu      sync.RWMutex
	byID    map[string]string // patient id -> file path
	cache   map[string]*Bundle
	scanned bool
}

// NewStore opens a bundle directory. The directory must exist; individual
// files are read lazily.
func NewStore(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("fhir data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fhir data dir %s is not a directory", dir)
	}
	return &Store{
		dir:    dir,
		logger: log.New(log.Writer(), "[FHIR] ", log.LstdFlags),
		byID:   make(map[string]string),
		cache:  make(map[string]*Bundle),
	}, nil
}

// scan indexes patient files by the trailing uuid in the filename.
func (s *Store) scan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanned {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading fhir dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := patientIDFromFilename(e.Name())
		if id == "" {
			continue
		}
		s.byID[id] = filepath.Join(s.dir, e.Name())
	}
	s.scanned = true
	return nil
}

// patientIDFromFilename pulls the uuid segment out of names like
// Abe604_Frami345_0b70aa23-0b27-07a6-1a05-c089f0d11dbb.json.
func patientIDFromFilename(name string) string {
	base := strings.TrimSuffix(name, ".json")
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return base
	}
	return base[idx+1:]
}

// ListPatients returns available patients sorted by name. limit <= 0 means
// no limit.
func (s *Store) ListPatients(limit int) ([]Patient, error) {
	if err := s.scan(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	patients := make([]Patient, 0, len(ids))
	for _, id := range ids {
		p := Patient{ID: id}
		s.mu.RLock()
		path := s.byID[id]
		s.mu.RUnlock()
		base := strings.TrimSuffix(filepath.Base(path), ".json")
		if i := strings.LastIndex(base, "_"); i > 0 {
			p.Name = strings.ReplaceAll(base[:i], "_", " ")
		}
		p.File = path
		patients = append(patients, p)
	}
	sort.Slice(patients, func(i, j int) bool { return patients[i].Name < patients[j].Name })
	if limit > 0 && len(patients) > limit {
		patients = patients[:limit]
	}
	return patients, nil
}

// LoadBundle reads and caches a patient's bundle.
func (s *Store) LoadBundle(patientID string) (*Bundle, error) {
	if err := s.scan(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if b, ok := s.cache[patientID]; ok {
		s.mu.RUnlock()
		return b, nil
	}
	path, ok := s.byID[patientID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("patient %s not found", patientID)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle for %s: %w", patientID, err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parsing bundle for %s: %w", patientID, err)
	}

	s.mu.Lock()
	s.cache[patientID] = &b
	s.mu.Unlock()
	s.logger.Printf("loaded bundle for %s (%d entries)", patientID, len(b.Entry))
	return &b, nil
}

// Demographics returns the Patient resource fields commonly needed by
// downstream tools.
func (s *Store) Demographics(patientID string) (map[string]interface{}, error) {
	b, err := s.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	for _, e := range b.Entry {
		if rt, _ := e.Resource["resourceType"].(string); rt == "Patient" {
			demo := map[string]interface{}{
				"patient_id": patientID,
				"birth_date": str(e.Resource["birthDate"]),
				"gender":     str(e.Resource["gender"]),
				"name":       HumanName(e.Resource),
			}
			return demo, nil
		}
	}
	return nil, fmt.Errorf("no Patient resource in bundle %s", patientID)
}

// HumanName flattens the first name entry of a Patient resource.
func HumanName(patient map[string]interface{}) string {
	names, _ := patient["name"].([]interface{})
	if len(names) == 0 {
		return ""
	}
	first, _ := names[0].(map[string]interface{})
	if first == nil {
		return ""
	}
	var parts []string
	if given, ok := first["given"].([]interface{}); ok {
		for _, g := range given {
			parts = append(parts, str(g))
		}
	}
	if fam := str(first["family"]); fam != "" {
		parts = append(parts, fam)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
