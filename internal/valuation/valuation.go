// Package valuation estimates a tree's yearly environmental value.
package valuation

import (
	"github.com/vbonduro/treebank/internal/analysis"
	"github.com/vbonduro/treebank/internal/domain"
)

const (
	oxygenPerCarbon    = 0.73
	carbonPricePerKg   = 30.0
	oxygenPricePerKg   = 20.0
	nativeMultiplier   = 1.5
	nativeBiodiversity = 200.0
	otherBiodiversity  = 50.0
)

// Source records where an estimate came from.
type Source string

const (
	SourceModel   Source = "model"
	SourceCatalog Source = "catalog"
	SourceNone    Source = "none"
)

type Estimate struct {
	CarbonKgPerYear analysis.Field[float64] `json:"carbon_kg_per_year"`
	OxygenKgPerYear analysis.Field[float64] `json:"oxygen_kg_per_year"`
	Value           analysis.Field[float64] `json:"value"`
	CarbonFactor    analysis.Field[float64] `json:"carbon_factor"`
	Source          Source                  `json:"source"`
}

// Calculate prefers figures the model reported. Missing carbon is derived
// from the estimated height and the species' catalog carbon factor; missing
// value is derived from carbon. Without those inputs the fields stay unknown.
// tmpl may be nil when the species is not in the catalog.
func Calculate(r analysis.Result, tmpl *domain.PromptTemplate) Estimate {
	est := Estimate{
		CarbonKgPerYear: r.Carbon,
		Value:           r.Value,
		Source:          SourceNone,
	}
	if r.Carbon.IsKnown() || r.Value.IsKnown() {
		est.Source = SourceModel
	}

	if tmpl != nil && tmpl.CarbonFactor > 0 {
		est.CarbonFactor = analysis.Known(tmpl.CarbonFactor)
		if h, ok := r.Height.Get(); ok && !est.CarbonKgPerYear.IsKnown() {
			est.CarbonKgPerYear = analysis.Known(tmpl.CarbonFactor * h / 2)
			est.Source = SourceCatalog
		}
	}

	carbon, ok := est.CarbonKgPerYear.Get()
	if !ok {
		return est
	}
	oxygen := carbon * oxygenPerCarbon
	est.OxygenKgPerYear = analysis.Known(oxygen)

	if !est.Value.IsKnown() {
		native := r.NativeSpecies.OrElse(false) || (tmpl != nil && tmpl.NativeSpecies)
		multiplier, bonus := 1.0, otherBiodiversity
		if native {
			multiplier, bonus = nativeMultiplier, nativeBiodiversity
		}
		est.Value = analysis.Known((carbon*carbonPricePerKg+oxygen*oxygenPricePerKg)*multiplier + bonus)
		if est.Source == SourceNone {
			est.Source = SourceCatalog
		}
	}
	return est
}
