package profiling

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

func TestColumnProfiler(t *testing.T) {
	profiler := NewColumnProfiler()

	t.Run("integer column", func(t *testing.T) {
		profile := profiler.Profile(models.Column{
			Name:   "order_id",
			Values: []string{"1", "2", "3", "3", ""},
		})

		assert.Equal(t, "integer", profile["data_type"])
		assert.Equal(t, 4, profile["row_count"])
		assert.Equal(t, 1, profile["null_values"])
		assert.Equal(t, 3, profile["cardinality"])
		assert.Equal(t, false, profile["distinct"])
		assert.InDelta(t, 1.0, profile["min"].(float64), 1e-9)
		assert.InDelta(t, 3.0, profile["max"].(float64), 1e-9)
	})

	t.Run("string column", func(t *testing.T) {
		profile := profiler.Profile(models.Column{
			Name:   "name",
			Values: []string{"ada", "grace", "linus"},
		})

		assert.Equal(t, "string", profile["data_type"])
		assert.Equal(t, true, profile["distinct"])
		assert.Equal(t, 3, profile["str_min"])
		assert.Equal(t, 5, profile["str_max"])
	})

	t.Run("float beats string, integer beats float", func(t *testing.T) {
		assert.Equal(t, "float", profiler.Profile(models.Column{Values: []string{"1.5", "2"}})["data_type"])
		assert.Equal(t, "integer", profiler.Profile(models.Column{Values: []string{"1", "2"}})["data_type"])
	})

	t.Run("boolean column", func(t *testing.T) {
		profile := profiler.Profile(models.Column{Values: []string{"true", "False"}})
		assert.Equal(t, "boolean", profile["data_type"])
	})

	t.Run("all-null column", func(t *testing.T) {
		profile := profiler.Profile(models.Column{Values: []string{"", " "}})
		assert.Equal(t, "empty", profile["data_type"])
		assert.Equal(t, 0, profile["row_count"])
		assert.Equal(t, 2, profile["null_values"])
	})
}
