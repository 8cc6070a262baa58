package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidProfile 表示画像缺少必填字段或字段取值非法。
var ErrInvalidProfile = errors.New("invalid profile")

// Gender is the closed set of genders offered by the profile form.
type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
	Other  Gender = "Other"
)

// ParseGender matches raw input against the known genders, ignoring case.
func ParseGender(raw string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male":
		return Male, true
	case "female":
		return Female, true
	case "other":
		return Other, true
	default:
		return "", false
	}
}

// Profile captures the identity attributes collected before the interview.
// The JSON shape is the one the backend expects in /store-user/ and in
// the user_info field of /process-answer/.
type Profile struct {
	Name   string `json:"name"`
	Age    string `json:"age"`
	Gender Gender `json:"gender"`
}

// Validate reports ErrInvalidProfile when a field is missing or malformed.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}

	age := strings.TrimSpace(p.Age)
	if age == "" {
		return fmt.Errorf("%w: age is required", ErrInvalidProfile)
	}
	n, err := strconv.Atoi(age)
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: age must be a positive integer, got %q", ErrInvalidProfile, p.Age)
	}

	if _, ok := ParseGender(string(p.Gender)); !ok {
		return fmt.Errorf("%w: gender must be one of Male, Female, Other, got %q", ErrInvalidProfile, p.Gender)
	}
	return nil
}

// Normalize trims whitespace and canonicalizes the gender spelling.
func (p Profile) Normalize() Profile {
	out := Profile{
		Name:   strings.TrimSpace(p.Name),
		Age:    strings.TrimSpace(p.Age),
		Gender: p.Gender,
	}
	if g, ok := ParseGender(string(p.Gender)); ok {
		out.Gender = g
	}
	return out
}

// Describe renders the profile the way answers are annotated server side,
// e.g. "Ann (30, Female)".
func (p Profile) Describe() string {
	return fmt.Sprintf("%s (%s, %s)", p.Name, p.Age, p.Gender)
}

// UnmarshalJSON accepts age either as a JSON string or as a number.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string          `json:"name"`
		Age    json.RawMessage `json:"age"`
		Gender Gender          `json:"gender"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	age, err := decodeAge(raw.Age)
	if err != nil {
		return err
	}

	p.Name = raw.Name
	p.Age = age
	p.Gender = raw.Gender
	return nil
}

func decodeAge(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("decode age: %w", err)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("decode age: %w", err)
	}
	return n.String(), nil
}
