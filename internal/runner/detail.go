package runner

import (
	"strings"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// splitTable resolves the source/target table pair of a case. Explicit
// src_table/target_table win over the legacy single-pair "table" mapping.
// A side may omit its table when it has a query override, except for
// ddlcheck which always describes real tables.
func splitTable(class models.TestClass, d models.TestCaseDetail) (models.TablePair, error) {
	pair := models.TablePair{
		Source: strings.TrimSpace(d.SourceTable),
		Target: strings.TrimSpace(d.TargetTable),
	}

	switch len(d.Table) {
	case 0:
	case 1:
		for src, tgt := range d.Table {
			if pair.Source == "" {
				pair.Source = strings.TrimSpace(src)
			}
			if pair.Target == "" {
				pair.Target = strings.TrimSpace(tgt)
			}
		}
	default:
		return models.TablePair{}, &DetailError{Field: "table", Reason: "must map exactly one source table to one target table"}
	}

	q := queryOverrides(d)
	structural := class == models.ClassDDLCheck

	if pair.Target == "" && (structural || q.TargetQuery == nil) {
		return models.TablePair{}, &DetailError{Field: "target_table", Reason: "is required"}
	}

	if !class.NeedsSource() {
		pair.Source = ""
		return pair, nil
	}
	if pair.Source == "" && (structural || q.SourceQuery == nil) {
		return models.TablePair{}, &DetailError{Field: "src_table", Reason: "is required"}
	}
	return pair, nil
}

// queryOverrides returns the configured overrides with blank queries dropped.
func queryOverrides(d models.TestCaseDetail) models.QueryOverride {
	if d.Query == nil {
		return models.QueryOverride{}
	}
	return models.QueryOverride{
		SourceQuery: nonBlank(d.Query.SourceQuery),
		TargetQuery: nonBlank(d.Query.TargetQuery),
	}
}

// columns returns the configured column list, or nil for "all columns".
func columns(d models.TestCaseDetail) []string {
	var out []string
	for _, c := range d.Columns {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func requireDBID(field string, id *uuid.UUID) (uuid.UUID, error) {
	if id == nil || *id == uuid.Nil {
		return uuid.Nil, &DetailError{Field: field, Reason: "is required"}
	}
	return *id, nil
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
