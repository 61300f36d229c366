package validation

import (
	"regexp"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
)

// Format regexes for schema property checks. Keys match the format names
// used in registered schemas.
var formatPatterns = map[string]*regexp.Regexp{
	"date":  regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
	"email": regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`),
	"tin":   regexp.MustCompile(`^\d{8}-\d{4}$`),
	"irn":   regexp.MustCompile(`^[A-Z0-9\-]{10,}$`),
}

// ValidateSchemaCompliance checks a payload against a registered schema:
// required fields, declared property types, and format patterns. In strict
// mode, fields absent from the schema's properties raise medium-severity
// undeclared-field issues.
func (v *Validator) ValidateSchemaCompliance(data map[string]interface{}, schemaName string, strict bool) ([]*validation.Issue, error) {
	v.mu.RLock()
	schema, ok := v.schemas[schemaName]
	v.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("schema " + schemaName)
	}

	now := v.clock.Now()
	var issues []*validation.Issue

	for _, field := range schema.Required {
		if _, present := data[field]; !present {
			issues = append(issues, &validation.Issue{
				IssueID:    v.ids.NewID(),
				Type:       validation.IssueSchemaViolation,
				Severity:   validation.SeverityCritical,
				Message:    "required field missing: " + field,
				Field:      field,
				DetectedAt: now,
			})
		}
	}

	for field, spec := range schema.Properties {
		val, present := data[field]
		if !present {
			continue
		}
		if spec.Type != "" && !typeMatches(val, spec.Type) {
			issues = append(issues, &validation.Issue{
				IssueID:    v.ids.NewID(),
				Type:       validation.IssueSchemaViolation,
				Severity:   validation.SeverityHigh,
				Message:    "field type mismatch: " + field,
				Field:      field,
				Expected:   spec.Type,
				Actual:     goTypeName(val),
				DetectedAt: now,
			})
			continue
		}
		if spec.Format != "" {
			if s, isString := val.(string); isString {
				if re, known := formatPatterns[spec.Format]; known && !re.MatchString(s) {
					issues = append(issues, &validation.Issue{
						IssueID:    v.ids.NewID(),
						Type:       validation.IssueSchemaViolation,
						Severity:   validation.SeverityMedium,
						Message:    "field format mismatch: " + field,
						Field:      field,
						Expected:   spec.Format,
						Actual:     s,
						DetectedAt: now,
					})
				}
			}
		}
	}

	if strict {
		for field := range data {
			if _, declared := schema.Properties[field]; !declared {
				issues = append(issues, &validation.Issue{
					IssueID:    v.ids.NewID(),
					Type:       validation.IssueUndeclaredField,
					Severity:   validation.SeverityMedium,
					Message:    "field not declared in schema: " + field,
					Field:      field,
					DetectedAt: now,
				})
			}
		}
	}

	return issues, nil
}

// typeMatches maps JSON schema type names onto the Go types that
// encoding/json produces when unmarshaling into interface{}.
func typeMatches(val interface{}, schemaType string) bool {
	switch schemaType {
	case "string":
		_, ok := val.(string)
		return ok
	case "integer":
		switch n := val.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		default:
			return false
		}
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]interface{})
		return ok
	case "object":
		_, ok := val.(map[string]interface{})
		return ok
	default:
		return false
	}
}

func goTypeName(val interface{}) string {
	switch val.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64, float32, float64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
