package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Structural limits for untrusted payloads.
const (
	maxDepth          = 40
	maxKeysPerLevel   = 200
	maxArrayLength    = 200
	maxStringLength   = 2000
	maxSerializedSize = 100_000
)

// Validation errors for ingestion payloads.
var (
	ErrTooDeep          = errors.New("structure exceeds max depth")
	ErrTooManyKeys      = errors.New("object exceeds max keys per level")
	ErrArrayTooLong     = errors.New("array exceeds max length")
	ErrStringTooLong    = errors.New("string exceeds max length")
	ErrPayloadTooLarge  = errors.New("serialized payload exceeds size ceiling")
	ErrForbiddenKey     = errors.New("forbidden key")
	ErrCircularRef      = errors.New("circular reference detected")
	ErrUnsupportedValue = errors.New("unsupported value type")
)

// forbiddenKeys guards against prototype pollution. The index is consumed
// by dynamically typed clients, so the guard applies regardless of what
// this process would do with the keys.
var forbiddenKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// ValidateItem checks one item's scalar fields and walks payload and
// metadata structurally. Returned errors identify the offending field.
func ValidateItem(item Item) error {
	if item.ID == "" {
		return errors.New("id must be a non-empty string")
	}
	if item.SourceType == "" {
		return errors.New("source_type must be a non-empty string")
	}
	if item.SourceVersion == "" {
		return errors.New("source_version must be a non-empty string")
	}
	if item.IngestedAt.IsZero() {
		return errors.New("ingested_at must be a valid timestamp")
	}

	if err := validateStructure(item.Payload); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	if item.Metadata != nil {
		if err := validateStructure(item.Metadata); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	return nil
}

// validateStructure walks a decoded JSON value tree, enforcing the
// structural limits, the forbidden-key guard, and tree shape.
func validateStructure(value any) error {
	visiting := make(map[uintptr]bool)
	if err := walkValue(value, 0, visiting); err != nil {
		return err
	}

	// Cycles are excluded above, so marshaling for the size ceiling is
	// safe.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	if len(data) > maxSerializedSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(data), maxSerializedSize)
	}
	return nil
}

// walkValue is a recursive visitor over the tagged JSON value kinds
// (null, bool, number, string, array, object). The visiting set holds
// identities of containers on the current path for cycle detection.
func walkValue(value any, depth int, visiting map[uintptr]bool) error {
	if depth > maxDepth {
		return fmt.Errorf("%w (%d)", ErrTooDeep, maxDepth)
	}

	switch v := value.(type) {
	case nil, bool, float64, int, int64, float32, json.Number, string:
		if s, ok := v.(string); ok && len(s) > maxStringLength {
			return fmt.Errorf("%w (%d > %d)", ErrStringTooLong, len(s), maxStringLength)
		}
		return nil

	case map[string]any:
		ptr := reflect.ValueOf(v).Pointer()
		if visiting[ptr] {
			return ErrCircularRef
		}
		visiting[ptr] = true
		defer delete(visiting, ptr)

		if len(v) > maxKeysPerLevel {
			return fmt.Errorf("%w (%d > %d)", ErrTooManyKeys, len(v), maxKeysPerLevel)
		}
		for key, child := range v {
			if forbiddenKeys[key] {
				return fmt.Errorf("%w: %q", ErrForbiddenKey, key)
			}
			if len(key) > maxStringLength {
				return fmt.Errorf("key %w (%d > %d)", ErrStringTooLong, len(key), maxStringLength)
			}
			if err := walkValue(child, depth+1, visiting); err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
		}
		return nil

	case []any:
		ptr := reflect.ValueOf(v).Pointer()
		if visiting[ptr] {
			return ErrCircularRef
		}
		visiting[ptr] = true
		defer delete(visiting, ptr)

		if len(v) > maxArrayLength {
			return fmt.Errorf("%w (%d > %d)", ErrArrayTooLong, len(v), maxArrayLength)
		}
		for i, child := range v {
			if err := walkValue(child, depth+1, visiting); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}
