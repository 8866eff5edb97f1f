package pipeline

import (
	"math"
	"strings"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// mapAliases renames raw columns to contract fields. For each field the
// first candidate source column present wins. A column already named after
// the field is tried first unless the field's alias list names it
// explicitly, so a cleaned table maps onto itself. Unmapped raw columns are
// discarded. Contracts without aliases, and tables where nothing maps, pass
// through unchanged.
func mapAliases(p *pass, t *types.Table) *types.Table {
	c := p.contract
	if len(c.Aliases) == 0 {
		return t
	}

	var targets, sources []string
	for _, f := range c.Fields {
		if src, ok := aliasSource(c, f.Name, t); ok {
			targets = append(targets, f.Name)
			sources = append(sources, src)
		}
	}
	if len(targets) == 0 {
		p.logger.Debug("no alias matched, passing columns through")
		return t
	}

	out := types.NewTable(targets...)
	out.Rows = make([]types.Row, len(t.Rows))
	for i, r := range t.Rows {
		nr := make(types.Row, len(targets))
		for j, target := range targets {
			nr[target] = r[sources[j]]
		}
		out.Rows[i] = nr
	}
	return out
}

func aliasSource(c *types.Contract, field string, t *types.Table) (string, bool) {
	candidates := c.Aliases[field]
	explicit := false
	for _, cand := range candidates {
		if cand == field {
			explicit = true
			break
		}
	}
	if !explicit && t.HasColumn(field) {
		return field, true
	}
	for _, cand := range candidates {
		if t.HasColumn(cand) {
			return cand, true
		}
	}
	return "", false
}

// expandEpochs derives, for every column ending in EpochSuffix, a sibling
// column without the suffix holding the value as a UTC time. Values that do
// not read as numbers become null.
func expandEpochs(p *pass, t *types.Table) *types.Table {
	for _, col := range append([]string(nil), t.Columns...) {
		if len(col) <= len(EpochSuffix) || !strings.HasSuffix(col, EpochSuffix) {
			continue
		}
		target := strings.TrimSuffix(col, EpochSuffix)
		malformed := 0
		var samples []string
		for _, r := range t.Rows {
			v := r[col]
			ts, ok := value.Epoch(v)
			if !ok {
				r[target] = nil
				if !value.IsNull(v) {
					malformed++
					samples = sampleOf(samples, v)
				}
				continue
			}
			r[target] = ts
		}
		t.AddColumn(target)
		if malformed > 0 {
			p.logger.Warn("malformed epoch values nulled",
				"column", col, "count", malformed, "samples", samples)
		}
	}
	return t
}

// roundPrecision rounds float fields with a declared precision, half away
// from zero. Non-numeric values become null.
func roundPrecision(p *pass, t *types.Table) *types.Table {
	for _, f := range p.contract.Fields {
		if f.Type != types.FieldFloat || f.Precision == nil || !t.HasColumn(f.Name) {
			continue
		}
		for _, r := range t.Rows {
			v, ok := value.Float(r[f.Name])
			if !ok {
				r[f.Name] = nil
				continue
			}
			r[f.Name] = roundHalfAway(v, *f.Precision)
		}
	}
	return t
}

// standardizeCategorical replaces integer codes by their labels. Values that
// already are a label of the field are kept; anything else becomes null and
// is counted as unmapped.
func standardizeCategorical(p *pass, t *types.Table) *types.Table {
	for _, f := range p.contract.Fields {
		codes, ok := p.contract.Categorical[f.Name]
		if !ok {
			continue
		}
		if !t.HasColumn(f.Name) {
			p.logger.Debug("categorical column absent", "column", f.Name)
			continue
		}
		labels := make(map[string]bool, len(codes))
		for _, l := range codes {
			labels[l] = true
		}

		unmapped := 0
		var samples []string
		for _, r := range t.Rows {
			v := r[f.Name]
			if value.IsNull(v) {
				r[f.Name] = nil
				continue
			}
			if code, ok := value.Int(v); ok {
				if label, ok := codes[code]; ok {
					r[f.Name] = label
					continue
				}
			}
			if s, ok := v.(string); ok && labels[s] {
				continue
			}
			r[f.Name] = nil
			unmapped++
			samples = sampleOf(samples, v)
		}
		if unmapped > 0 {
			if p.stats.UnmappedCodes == nil {
				p.stats.UnmappedCodes = make(map[string]int)
			}
			p.stats.UnmappedCodes[f.Name] += unmapped
			p.logger.Warn("unmapped categorical codes nulled",
				"column", f.Name, "count", unmapped, "samples", samples)
		}
	}
	return t
}

// coerceIntegers converts int64 fields to int64 values. A value with a
// non-zero fractional part becomes null instead of being truncated.
func coerceIntegers(p *pass, t *types.Table) *types.Table {
	for _, name := range p.contract.FieldsOfType(types.FieldInt64) {
		if !t.HasColumn(name) {
			continue
		}
		bad := 0
		var samples []string
		for _, r := range t.Rows {
			v := r[name]
			if value.IsNull(v) {
				r[name] = nil
				continue
			}
			i, ok := value.Int(v)
			if !ok {
				r[name] = nil
				bad++
				samples = sampleOf(samples, v)
				continue
			}
			r[name] = i
		}
		if bad > 0 {
			if p.stats.NonIntegral == nil {
				p.stats.NonIntegral = make(map[string]int)
			}
			p.stats.NonIntegral[name] += bad
			p.logger.Warn("non-integral values nulled",
				"column", name, "count", bad, "samples", samples)
		}
	}
	return t
}

func roundHalfAway(f float64, precision int) float64 {
	scale := math.Pow10(precision)
	return math.Round(f*scale) / scale
}
