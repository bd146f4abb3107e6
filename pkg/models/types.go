package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice type for PostgreSQL JSON arrays
type StringSlice []string

func (ss StringSlice) Value() (driver.Value, error) {
	if ss == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(ss)
}

func (ss *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*ss = []string{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}

	if len(bytes) == 0 {
		*ss = []string{}
		return nil
	}

	return json.Unmarshal(bytes, ss)
}

// Clone retourne une copie indépendante du slice
func (ss StringSlice) Clone() StringSlice {
	if ss == nil {
		return nil
	}
	out := make(StringSlice, len(ss))
	copy(out, ss)
	return out
}
