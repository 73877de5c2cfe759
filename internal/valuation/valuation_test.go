package valuation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vbonduro/treebank/internal/analysis"
	"github.com/vbonduro/treebank/internal/domain"
)

func TestCalculate(t *testing.T) {
	mango := &domain.PromptTemplate{Key: "mango", CarbonFactor: 12.5, NativeSpecies: true}
	teak := &domain.PromptTemplate{Key: "teak", CarbonFactor: 20}

	tests := []struct {
		name       string
		result     analysis.Result
		tmpl       *domain.PromptTemplate
		wantCarbon analysis.Field[float64]
		wantOxygen analysis.Field[float64]
		wantValue  analysis.Field[float64]
		wantSource Source
	}{
		{
			name:       "nothing known",
			result:     analysis.Result{},
			tmpl:       nil,
			wantSource: SourceNone,
		},
		{
			name:       "height without catalog factor",
			result:     analysis.Result{Height: analysis.Known(4.0)},
			tmpl:       nil,
			wantSource: SourceNone,
		},
		{
			name:       "native species from catalog",
			result:     analysis.Result{Height: analysis.Known(2.0)},
			tmpl:       mango,
			wantCarbon: analysis.Known(12.5),
			wantOxygen: analysis.Known(12.5 * 0.73),
			wantValue:  analysis.Known((12.5*30+12.5*0.73*20)*1.5 + 200),
			wantSource: SourceCatalog,
		},
		{
			name:       "non-native species from catalog",
			result:     analysis.Result{Height: analysis.Known(3.0)},
			tmpl:       teak,
			wantCarbon: analysis.Known(30.0),
			wantOxygen: analysis.Known(30 * 0.73),
			wantValue:  analysis.Known(30*30 + 30*0.73*20 + 50),
			wantSource: SourceCatalog,
		},
		{
			name:       "model figures win",
			result:     analysis.Result{Height: analysis.Known(2.0), Carbon: analysis.Known(40.0), Value: analysis.Known(999.0)},
			tmpl:       mango,
			wantCarbon: analysis.Known(40.0),
			wantOxygen: analysis.Known(40 * 0.73),
			wantValue:  analysis.Known(999.0),
			wantSource: SourceModel,
		},
		{
			name:       "model carbon without value",
			result:     analysis.Result{Carbon: analysis.Known(10.0), NativeSpecies: analysis.Known(true)},
			tmpl:       nil,
			wantCarbon: analysis.Known(10.0),
			wantOxygen: analysis.Known(10 * 0.73),
			wantValue:  analysis.Known((10*30+10*0.73*20)*1.5 + 200),
			wantSource: SourceModel,
		},
		{
			name:       "model value only",
			result:     analysis.Result{Value: analysis.Known(500.0)},
			tmpl:       nil,
			wantValue:  analysis.Known(500.0),
			wantSource: SourceModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.result, tt.tmpl)
			assertField(t, tt.wantCarbon, got.CarbonKgPerYear)
			assertField(t, tt.wantOxygen, got.OxygenKgPerYear)
			assertField(t, tt.wantValue, got.Value)
			assert.Equal(t, tt.wantSource, got.Source)
		})
	}
}

func TestCalculateRecordsFactor(t *testing.T) {
	got := Calculate(analysis.Result{}, &domain.PromptTemplate{CarbonFactor: 25})

	assert.Equal(t, 25.0, got.CarbonFactor.OrElse(0))
	assert.False(t, got.CarbonKgPerYear.IsKnown())
}

func assertField(t *testing.T, want, got analysis.Field[float64]) {
	t.Helper()
	wv, wok := want.Get()
	gv, gok := got.Get()
	assert.Equal(t, wok, gok)
	if wok {
		assert.InDelta(t, wv, gv, 1e-9)
	}
}
