package course

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Package course holds the Course model and its lenient JSON mapping codec.

// JSON keys of a course object.
const (
	KeyName            = "name"
	KeyLink            = "link"
	KeyImageURL        = "imageUrl"
	KeyNumberOfLessons = "numberOfLessons"
	KeyNumberOfTests   = "numberOfTests"
)

// Course is a single catalog entry. Values are copied, never shared.
type Course struct {
	Name            string `json:"name"`
	Link            string `json:"link"`
	ImageURL        string `json:"imageUrl"`
	NumberOfLessons int    `json:"numberOfLessons"`
	NumberOfTests   int    `json:"numberOfTests"`
}

// ParseJSON decodes a response body into a generic JSON value, keeping numbers as json.Number.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parse json: trailing data after top-level value")
	}
	return v, nil
}

// Decode builds a Course from a JSON object. It reports false when a required field is
// missing or malformed; numeric fields may be sent as numbers or numeric strings.
func Decode(v any) (Course, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Course{}, false
	}

	name, ok := stringField(obj, KeyName)
	if !ok {
		return Course{}, false
	}
	link, ok := stringField(obj, KeyLink)
	if !ok {
		return Course{}, false
	}
	imageURL, ok := stringField(obj, KeyImageURL)
	if !ok {
		return Course{}, false
	}
	lessons, ok := intField(obj, KeyNumberOfLessons)
	if !ok {
		return Course{}, false
	}
	tests, ok := intField(obj, KeyNumberOfTests)
	if !ok {
		return Course{}, false
	}

	return Course{
		Name:            name,
		Link:            link,
		ImageURL:        imageURL,
		NumberOfLessons: lessons,
		NumberOfTests:   tests,
	}, true
}

// DecodeList decodes every element of a JSON array, dropping the ones Decode rejects.
// Anything other than an array yields an empty list.
func DecodeList(v any) []Course {
	items, ok := v.([]any)
	if !ok {
		return []Course{}
	}

	out := make([]Course, 0, len(items))
	for _, item := range items {
		if c, ok := Decode(item); ok {
			out = append(out, c)
		}
	}
	return out
}

// Encode returns the JSON mapping of c, suitable as a submit payload.
func Encode(c Course) map[string]any {
	return map[string]any{
		KeyName:            c.Name,
		KeyLink:            c.Link,
		KeyImageURL:        c.ImageURL,
		KeyNumberOfLessons: c.NumberOfLessons,
		KeyNumberOfTests:   c.NumberOfTests,
	}
}

func stringField(obj map[string]any, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func intField(obj map[string]any, key string) (int, bool) {
	raw, ok := obj[key]
	if !ok {
		return 0, false
	}
	return toInt(raw)
}

// toInt accepts integral numbers in any of the shapes encoding/json and callers produce.
func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		if v > math.MaxInt || v < math.MinInt {
			return 0, false
		}
		return int(v), true
	case float64:
		return floatToInt(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return toInt(n)
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// -MinInt is the first float64 past MaxInt, which itself has no exact float64 form.
	if f >= -float64(math.MinInt) || f < float64(math.MinInt) {
		return 0, false
	}
	return int(f), true
}
