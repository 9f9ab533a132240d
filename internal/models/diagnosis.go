package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// SymptomKind enumerates the data-consistency findings for a deletion task.
type SymptomKind string

const (
	SymptomMultipleModules           SymptomKind = "multiple modules"
	SymptomJobRecordMissing          SymptomKind = "job record missing"
	SymptomModuleTypeRecordMissing   SymptomKind = "module-type record missing"
	SymptomCourseModuleRecordMissing SymptomKind = "module-link record missing"
	SymptomContextRecordMissing      SymptomKind = "context record missing"
)

// Keys for task-level symptoms. Module-level symptoms are keyed by course-module id.
const (
	SymptomKeyMulti = "multi"
	SymptomKeyJob   = "job"
)

// Valid reports whether the kind belongs to the closed vocabulary.
func (k SymptomKind) Valid() bool {
	switch k {
	case SymptomMultipleModules, SymptomJobRecordMissing, SymptomModuleTypeRecordMissing,
		SymptomCourseModuleRecordMissing, SymptomContextRecordMissing:
		return true
	default:
		return false
	}
}

// IsTaskLevel reports whether the symptom concerns the queued task rather than a module.
func (k SymptomKind) IsTaskLevel() bool {
	return k == SymptomMultipleModules || k == SymptomJobRecordMissing
}

// Symptom is one finding; CourseModuleID is set for module-level findings.
type Symptom struct {
	Kind           SymptomKind `json:"kind"`
	CourseModuleID *int64      `json:"cmid,omitempty"`
}

// MarshalJSON renders the symptom as its stable code.
func (s Symptom) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s.Kind))
}

// UnmarshalJSON reads a symptom code.
func (s *Symptom) UnmarshalJSON(data []byte) error {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	s.Kind = SymptomKind(code)
	return nil
}

// SymptomSet is an insertion-ordered mapping of key to symptoms.
type SymptomSet struct {
	keys  []string
	items map[string][]Symptom
}

// NewSymptomSet returns an empty set.
func NewSymptomSet() *SymptomSet {
	return &SymptomSet{items: map[string][]Symptom{}}
}

// Add appends symptoms under key, keeping the first-seen key order.
func (s *SymptomSet) Add(key string, symptoms ...Symptom) {
	if len(symptoms) == 0 {
		return
	}
	if s.items == nil {
		s.items = map[string][]Symptom{}
	}
	if _, ok := s.items[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.items[key] = append(s.items[key], symptoms...)
}

// Merge appends every entry of other into s.
func (s *SymptomSet) Merge(other *SymptomSet) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		s.Add(key, other.items[key]...)
	}
}

// Keys returns keys in insertion order.
func (s *SymptomSet) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Get returns the symptoms recorded for key.
func (s *SymptomSet) Get(key string) []Symptom {
	if s == nil {
		return nil
	}
	return s.items[key]
}

// Len returns the number of keys.
func (s *SymptomSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Has reports whether any key carries the kind.
func (s *SymptomSet) Has(kind SymptomKind) bool {
	if s == nil {
		return false
	}
	for _, key := range s.keys {
		for _, symptom := range s.items[key] {
			if symptom.Kind == kind {
				return true
			}
		}
	}
	return false
}

// Kinds returns the codes recorded for key.
func (s *SymptomSet) Kinds(key string) []SymptomKind {
	symptoms := s.Get(key)
	kinds := make([]SymptomKind, len(symptoms))
	for i, symptom := range symptoms {
		kinds[i] = symptom.Kind
	}
	return kinds
}

// MarshalJSON renders the set as an ordered JSON object of code lists.
func (s *SymptomSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if s != nil {
		for i, key := range s.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(s.items[key])
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores the set keeping the document key order.
func (s *SymptomSet) UnmarshalJSON(data []byte) error {
	*s = SymptomSet{items: map[string][]Symptom{}}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("symptom set: expected object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var symptoms []Symptom
		if err := dec.Decode(&symptoms); err != nil {
			return err
		}
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			for i := range symptoms {
				symptoms[i].CourseModuleID = Int64Ptr(id)
			}
		}
		s.Add(key, symptoms...)
	}
	_, err = dec.Token()
	return err
}

// Diagnosis is the immutable result of inspecting one deletion job.
type Diagnosis struct {
	Job                  *DeletionJob `json:"job"`
	Symptoms             *SymptomSet  `json:"symptoms"`
	IsMultiModuleJob     bool         `json:"is_multi_module_job"`
	IsJobRecordMissing   bool         `json:"is_job_record_missing"`
	HasModuleMissingData bool         `json:"has_module_missing_data"`
}

// NewDiagnosis computes the derived flags once from the recorded symptoms.
func NewDiagnosis(job *DeletionJob, symptoms *SymptomSet) *Diagnosis {
	if symptoms == nil {
		symptoms = NewSymptomSet()
	}
	return &Diagnosis{
		Job:                job,
		Symptoms:           symptoms,
		IsMultiModuleJob:   symptoms.Has(SymptomMultipleModules),
		IsJobRecordMissing: symptoms.Has(SymptomJobRecordMissing),
		HasModuleMissingData: symptoms.Has(SymptomModuleTypeRecordMissing) ||
			symptoms.Has(SymptomCourseModuleRecordMissing) ||
			symptoms.Has(SymptomContextRecordMissing),
	}
}

// Healthy reports the "no known issues" state.
func (d *Diagnosis) Healthy() bool {
	return d.Symptoms.Len() == 0
}

// FormatID renders an id as a symptom key.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}
