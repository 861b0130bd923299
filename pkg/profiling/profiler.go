// Package profiling computes per-column statistical profiles attached to
// graph nodes during ingestion.
package profiling

import (
	"strconv"
	"strings"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// Profiler computes an open-ended property map for one column. The concrete
// statistics are a collaborator concern; implementations are pluggable.
type Profiler interface {
	Profile(column models.Column) map[string]any
}

// ColumnProfiler is the built-in profiler: data type inference, cardinality,
// null counts and value bounds over the sampled rows.
type ColumnProfiler struct{}

// NewColumnProfiler creates the built-in column profiler.
func NewColumnProfiler() *ColumnProfiler {
	return &ColumnProfiler{}
}

// Profile computes the profile of one column.
func (p *ColumnProfiler) Profile(column models.Column) map[string]any {
	nonNull := make([]string, 0, len(column.Values))
	nulls := 0
	for _, v := range column.Values {
		if strings.TrimSpace(v) == "" {
			nulls++
			continue
		}
		nonNull = append(nonNull, v)
	}

	distinct := make(map[string]bool, len(nonNull))
	for _, v := range nonNull {
		distinct[v] = true
	}

	profile := map[string]any{
		"row_count":   len(nonNull),
		"null_values": nulls,
		"cardinality": len(distinct),
		"distinct":    len(distinct) == len(nonNull) && len(nonNull) > 0,
		"data_type":   inferType(nonNull),
	}
	if len(nonNull) > 0 {
		profile["uniqueness"] = float64(len(distinct)) / float64(len(nonNull))
	}

	switch profile["data_type"] {
	case "integer", "float":
		minV, maxV, ok := numericBounds(nonNull)
		if ok {
			profile["min"] = minV
			profile["max"] = maxV
		}
	case "string":
		minLen, maxLen := lengthBounds(nonNull)
		profile["str_min"] = minLen
		profile["str_max"] = maxLen
	}

	return profile
}

func inferType(values []string) string {
	if len(values) == 0 {
		return "empty"
	}

	isInt, isFloat, isBool := true, true, true
	for _, v := range values {
		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			switch strings.ToLower(v) {
			case "true", "false":
			default:
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			return "string"
		}
	}

	switch {
	case isBool:
		return "boolean"
	case isInt:
		return "integer"
	case isFloat:
		return "float"
	default:
		return "string"
	}
}

func numericBounds(values []string) (float64, float64, bool) {
	var minV, maxV float64
	found := false
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if !found {
			minV, maxV = f, f
			found = true
			continue
		}
		if f < minV {
			minV = f
		}
		if f > maxV {
			maxV = f
		}
	}
	return minV, maxV, found
}

func lengthBounds(values []string) (int, int) {
	minLen, maxLen := len(values[0]), len(values[0])
	for _, v := range values[1:] {
		if len(v) < minLen {
			minLen = len(v)
		}
		if len(v) > maxLen {
			maxLen = len(v)
		}
	}
	return minLen, maxLen
}
