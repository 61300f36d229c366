package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/fieldpath"
)

// Volatile fields stripped before integrity hashing. These change between a
// source payload and its copy on the target side without the data itself
// differing.
var defaultVolatileFields = []string{"timestamp", "processing_time", "id", "uuid"}

// ValidateDataIntegrity strips volatile fields from both payloads, hashes
// each side over canonical JSON, and reports whether the hashes match. On
// mismatch it computes a top-level field diff of the cleaned structures.
func (v *Validator) ValidateDataIntegrity(source, target map[string]interface{}, excludeFields ...string) *validation.DataIntegrityCheck {
	volatile := defaultVolatileFields
	if len(excludeFields) > 0 {
		volatile = excludeFields
	}

	cleanSource := stripVolatile(source, volatile).(map[string]interface{})
	cleanTarget := stripVolatile(target, volatile).(map[string]interface{})

	check := &validation.DataIntegrityCheck{
		SourceHash: canonicalHash(cleanSource),
		TargetHash: canonicalHash(cleanTarget),
		CheckedAt:  v.clock.Now(),
	}
	check.IntegrityVerified = check.SourceHash == check.TargetHash
	if !check.IntegrityVerified {
		check.Differences = diffTopLevel(cleanSource, cleanTarget)
	}
	return check
}

// stripVolatile removes volatile keys recursively through nested maps and
// slices, returning a cleaned copy.
func stripVolatile(value interface{}, volatile []string) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		cleaned := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			if isVolatile(k, volatile) {
				continue
			}
			cleaned[k] = stripVolatile(val, volatile)
		}
		return cleaned
	case []interface{}:
		cleaned := make([]interface{}, len(typed))
		for i, val := range typed {
			cleaned[i] = stripVolatile(val, volatile)
		}
		return cleaned
	default:
		return value
	}
}

func isVolatile(key string, volatile []string) bool {
	for _, v := range volatile {
		if key == v {
			return true
		}
	}
	return false
}

// canonicalHash produces the SHA-256 hex digest of a payload's canonical
// JSON form. encoding/json sorts map keys, so two logically equal maps hash
// identically regardless of insertion order.
func canonicalHash(payload map[string]interface{}) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Non-serializable payloads cannot match anything.
		raw = []byte(err.Error())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// diffTopLevel compares the cleaned payloads key by key at the top level.
func diffTopLevel(source, target map[string]interface{}) *validation.IntegrityDiff {
	diff := &validation.IntegrityDiff{
		ValueMismatch: make(map[string]validation.ValuePair),
	}
	for k, sv := range source {
		tv, ok := target[k]
		if !ok {
			diff.MissingInTarget = append(diff.MissingInTarget, k)
			continue
		}
		if !fieldpath.Equal(sv, tv) {
			diff.ValueMismatch[k] = validation.ValuePair{Source: sv, Target: tv}
		}
	}
	for k := range target {
		if _, ok := source[k]; !ok {
			diff.MissingInSource = append(diff.MissingInSource, k)
		}
	}
	if len(diff.ValueMismatch) == 0 {
		diff.ValueMismatch = nil
	}
	return diff
}
