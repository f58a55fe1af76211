package validation

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Diff is the multiset difference between two row sets.
type Diff struct {
	SrcCount  int64
	DestCount int64
	// SrcToDest counts source rows with no matching target row.
	SrcToDest int64
	// DestToSrc counts target rows with no matching source row.
	DestToSrc int64
	SrcOnly   [][]any
	DestOnly  [][]any
}

// Passed reports whether both sides hold the same rows.
func (d Diff) Passed() bool {
	return d.SrcToDest == 0 && d.DestToSrc == 0
}

// Compare groups rows of both sides by fingerprint and matches them one for
// one, so a row duplicated only on one side is reported once per surplus copy.
// At most sample unmatched rows per side are kept.
func Compare(src, dest [][]any, sample int) (Diff, error) {
	type group struct {
		count  int
		sample []any
	}

	groups := make(map[string]*group, len(src))
	for _, row := range src {
		fp, err := Fingerprint(row)
		if err != nil {
			return Diff{}, err
		}
		g, ok := groups[fp]
		if !ok {
			g = &group{sample: row}
			groups[fp] = g
		}
		g.count++
	}

	d := Diff{SrcCount: int64(len(src)), DestCount: int64(len(dest))}
	for _, row := range dest {
		fp, err := Fingerprint(row)
		if err != nil {
			return Diff{}, err
		}
		if g, ok := groups[fp]; ok && g.count > 0 {
			g.count--
			continue
		}
		d.DestToSrc++
		if len(d.DestOnly) < sample {
			d.DestOnly = append(d.DestOnly, row)
		}
	}

	fps := make([]string, 0, len(groups))
	for fp, g := range groups {
		if g.count > 0 {
			fps = append(fps, fp)
		}
	}
	sort.Strings(fps)
	for _, fp := range fps {
		g := groups[fp]
		d.SrcToDest += int64(g.count)
		for i := 0; i < g.count && len(d.SrcOnly) < sample; i++ {
			d.SrcOnly = append(d.SrcOnly, g.sample)
		}
	}

	return d, nil
}

// Fingerprint computes a stable SHA-256 fingerprint for a row.
func Fingerprint(row []any) (string, error) {
	b, err := json.Marshal(normalizeRow(row))
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	hash := sha256.Sum256(b)
	return fmt.Sprintf("%x", hash), nil
}

// EncodeRows renders sampled rows as the JSON text stored in the case log.
// An empty sample encodes as "[]".
func EncodeRows(rows [][]any) (string, error) {
	if len(rows) == 0 {
		return "[]", nil
	}
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = normalizeRow(r)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(b), nil
}

func normalizeRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch t := v.(type) {
		case []byte:
			out[i] = string(t)
		case time.Time:
			out[i] = t.UTC().Format(time.RFC3339Nano)
		default:
			out[i] = v
		}
	}
	return out
}
