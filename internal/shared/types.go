package shared

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
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

	return json.Unmarshal(bytes, s)
}

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// InputType is how a question expects its answer to be acquired.
type InputType string

const (
	InputTypeText      InputType = "text"
	InputTypeOpenEnded InputType = "open_ended"
	InputTypeSelect    InputType = "select"
	InputTypeSlider    InputType = "slider"
)

func (t InputType) String() string {
	return string(t)
}

// Conversational returns true when answers to the question go through the
// multi-turn follow-up loop rather than straight to the submission sink.
func (t InputType) Conversational() bool {
	return t == InputTypeOpenEnded
}
