package models

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AdhocTask mirrors a task_adhoc row.
type AdhocTask struct {
	ID          int64          `db:"id" json:"id"`
	Component   string         `db:"component" json:"component"`
	ClassName   string         `db:"classname" json:"classname"`
	NextRunTime int64          `db:"nextruntime" json:"nextruntime"`
	FailDelay   int64          `db:"faildelay" json:"faildelay"`
	CustomData  sql.NullString `db:"customdata" json:"-"`
	UserID      sql.NullInt64  `db:"userid" json:"userid,omitempty"`
	Blocking    int64          `db:"blocking" json:"blocking"`
}

// AdhocTaskColumns lists the columns selected for AdhocTask.
var AdhocTaskColumns = []string{"id", "component", "classname", "nextruntime", "faildelay", "customdata", "userid", "blocking"}

// NullableID decodes ids that may arrive as JSON numbers, numeric strings or null.
type NullableID struct {
	Value int64
	Valid bool
}

// Ptr returns the id as a pointer, nil when absent.
func (n NullableID) Ptr() *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NullableID) UnmarshalJSON(data []byte) error {
	*n = NullableID{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			return nil
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Whole floats such as 7.0 or 1e3 are ids; fractions and out of range values are not.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return fmt.Errorf("invalid id %q", raw)
		}
		v = int64(f)
	}
	n.Value = v
	n.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n NullableID) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(n.Value, 10)), nil
}

// PayloadModule is one entry of the "cms" list carried by a deletion task.
type PayloadModule struct {
	ID       NullableID `json:"id"`
	Course   NullableID `json:"course"`
	Module   NullableID `json:"module"`
	Instance NullableID `json:"instance"`
	Section  NullableID `json:"section"`
}

// DeletionPayload is the custom data attached to a course_delete_modules task.
type DeletionPayload struct {
	Modules    []PayloadModule `json:"cms"`
	UserID     NullableID      `json:"userid"`
	RealUserID NullableID      `json:"realuserid"`
}

// ParseDeletionPayload decodes task custom data. Missing fields stay invalid rather than erroring;
// only syntactically broken JSON is reported.
func ParseDeletionPayload(raw string) (DeletionPayload, error) {
	var payload DeletionPayload
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return DeletionPayload{}, fmt.Errorf("decode deletion payload: %w", err)
	}
	return payload, nil
}

// Encode renders the payload as task custom data.
func (p DeletionPayload) Encode() (string, error) {
	if p.Modules == nil {
		p.Modules = []PayloadModule{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode deletion payload: %w", err)
	}
	return string(data), nil
}

// PayloadModuleFromCourseModule builds a payload entry from a course_modules row.
func PayloadModuleFromCourseModule(cm CourseModule) PayloadModule {
	return PayloadModule{
		ID:       NullableID{Value: cm.ID, Valid: true},
		Course:   NullableID{Value: cm.Course, Valid: true},
		Module:   NullableID{Value: cm.Module, Valid: true},
		Instance: NullableID{Value: cm.Instance, Valid: true},
		Section:  NullableID{Value: cm.Section, Valid: true},
	}
}
