// Package fingerprint derives deterministic content hashes for ingested
// assets. The schema hash marks what shape of a table a metadata record was
// built from, so a changed upstream asset is detectable without re-profiling.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// Schema hashes the structural identity of a table: its path and the sorted
// set of column names. Sampled values do not participate; two samples of the
// same table fingerprint identically.
func Schema(t *models.Table) string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	sort.Strings(names)

	canonical := t.Path + "\x00" + strings.Join(names, "\x00")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}
