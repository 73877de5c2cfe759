// Package analysis turns a model's loosely structured reply into typed fields.
package analysis

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vbonduro/treebank/internal/domain"
)

// Result holds every field the renderer knows how to extract. Fields the
// reply did not mention stay Unknown.
type Result struct {
	Species         Field[string]              `json:"species"`
	ScientificName  Field[string]              `json:"scientific_name"`
	Confidence      Field[float64]             `json:"confidence"`
	NativeSpecies   Field[bool]                `json:"native_species"`
	HealthStatus    Field[domain.HealthStatus] `json:"health_status"`
	HealthScore     Field[int]                 `json:"health_score"`
	Issues          Field[[]string]            `json:"issues"`
	Recommendations Field[string]              `json:"recommendations"`
	Height          Field[float64]             `json:"height_estimate_m"`
	CanopyWidth     Field[float64]             `json:"canopy_width_m"`
	Age             Field[int]                 `json:"age_estimate_years"`
	Carbon          Field[float64]             `json:"carbon_kg_per_year"`
	Value           Field[float64]             `json:"monetary_value"`
	Answer          Field[string]              `json:"answer"`
	Raw             string                     `json:"raw"`
}

// Status returns the health status, or HealthUnknown.
func (r Result) Status() domain.HealthStatus {
	return r.HealthStatus.OrElse(domain.HealthUnknown)
}

// Parse never fails. It first reads an embedded JSON object, then fills any
// field still unknown from "key: value" lines. Empty input yields a Result
// with every field unknown.
func Parse(raw string) Result {
	r := Result{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return r
	}

	if doc := extractJSON(raw); doc != "" && gjson.Valid(doc) {
		r.fromJSON(gjson.Parse(doc))
	}
	r.fromLines(raw)

	// A zero score with no status is an echoed template, not a dead tree.
	if score, ok := r.HealthScore.Get(); ok && score == 0 && !r.HealthStatus.IsKnown() {
		r.HealthScore = Unknown[int]()
	}
	if !r.HealthStatus.IsKnown() {
		if score, ok := r.HealthScore.Get(); ok {
			r.HealthStatus = Known(statusFromScore(score))
		}
	}
	return r
}

// extractJSON returns the ```json fenced block if there is one, otherwise the
// text between the first '{' and the last '}'.
func extractJSON(raw string) string {
	const fence = "```json"
	if i := strings.Index(raw, fence); i >= 0 {
		body := raw[i+len(fence):]
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		return strings.TrimSpace(body)
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

var (
	speciesPaths        = []string{"species.common_name", "species.name", "species.thai_name", "common_name", "species"}
	scientificPaths     = []string{"species.scientific_name", "scientific_name"}
	confidencePaths     = []string{"species.confidence", "confidence"}
	nativePaths         = []string{"species.is_native", "species.is_thai_species", "native_species", "is_native"}
	statusPaths         = []string{"health_assessment.status", "health_status", "health.status", "health"}
	scorePaths          = []string{"health_assessment.score", "health_score", "health.score"}
	issuesPaths         = []string{"health_assessment.issues", "issues"}
	recommendationPaths = []string{"health_assessment.recommendations", "recommendations"}
	heightPaths         = []string{"physical_attributes.height_estimate_m", "height_estimate_m", "height"}
	canopyPaths         = []string{"physical_attributes.canopy_width_m", "canopy_width_m", "canopy_width"}
	agePaths            = []string{"physical_attributes.age_estimate_years", "age_estimate_years", "age"}
	carbonPaths         = []string{"environmental_value.carbon_kg_per_year", "carbon_kg_per_year", "carbon"}
	valuePaths          = []string{"environmental_value.monetary_value", "environmental_value.total_value", "monetary_value", "value"}
	answerPaths         = []string{"answer"}
)

func (r *Result) fromJSON(doc gjson.Result) {
	if !doc.IsObject() {
		return
	}
	if s, ok := firstString(doc, speciesPaths); ok && !isPlaceholder(s) {
		r.Species = Known(s)
	}
	if s, ok := firstString(doc, scientificPaths); ok && !isPlaceholder(s) {
		r.ScientificName = Known(s)
	}
	if f, ok := firstNumber(doc, confidencePaths); ok && f > 0 && f <= 1 {
		r.Confidence = Known(f)
	}
	for _, p := range nativePaths {
		if v := doc.Get(p); v.IsBool() {
			r.NativeSpecies = Known(v.Bool())
			break
		}
	}
	if s, ok := firstString(doc, statusPaths); ok && !isPlaceholder(s) {
		if st, ok := normaliseHealth(s); ok {
			r.HealthStatus = Known(st)
		}
	}
	if f, ok := firstNumber(doc, scorePaths); ok && f >= 0 && f <= 100 {
		r.HealthScore = Known(int(f + 0.5))
	}
	for _, p := range issuesPaths {
		if v := doc.Get(p); v.IsArray() {
			var issues []string
			for _, item := range v.Array() {
				if s := strings.TrimSpace(item.String()); s != "" {
					issues = append(issues, s)
				}
			}
			r.Issues = Known(issues)
			break
		}
	}
	for _, p := range recommendationPaths {
		v := doc.Get(p)
		if v.IsArray() {
			var recs []string
			for _, item := range v.Array() {
				recs = append(recs, strings.TrimSpace(item.String()))
			}
			if joined := strings.Join(recs, "; "); joined != "" {
				r.Recommendations = Known(joined)
				break
			}
		}
		if s := strings.TrimSpace(v.String()); v.Type == gjson.String && s != "" {
			r.Recommendations = Known(s)
			break
		}
	}
	if f, ok := firstNumber(doc, heightPaths); ok && f > 0 {
		r.Height = Known(f)
	}
	if f, ok := firstNumber(doc, canopyPaths); ok && f > 0 {
		r.CanopyWidth = Known(f)
	}
	if f, ok := firstNumber(doc, agePaths); ok {
		if age, ok := ageYears(f); ok {
			r.Age = Known(age)
		}
	}
	if f, ok := firstNumber(doc, carbonPaths); ok && f > 0 {
		r.Carbon = Known(f)
	}
	if f, ok := firstNumber(doc, valuePaths); ok && f > 0 {
		r.Value = Known(f)
	}
	if s, ok := firstString(doc, answerPaths); ok {
		r.Answer = Known(s)
	}
}

func firstString(doc gjson.Result, paths []string) (string, bool) {
	for _, p := range paths {
		v := doc.Get(p)
		if v.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(v.Str); s != "" {
			return s, true
		}
	}
	return "", false
}

func firstNumber(doc gjson.Result, paths []string) (float64, bool) {
	for _, p := range paths {
		v := doc.Get(p)
		switch v.Type {
		case gjson.Number:
			return v.Num, true
		case gjson.String:
			if f, ok := leadingNumber(v.Str); ok {
				return f, true
			}
		}
	}
	return 0, false
}

var (
	bulletRe    = regexp.MustCompile(`^(?:[-*•+>#]+|\d+[.)])\s*`)
	numberRe    = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	thousandsRe = regexp.MustCompile(`(\d),(\d{3})`)
	nonWordRe   = regexp.MustCompile(`[^a-z]+`)
)

// lineKeys maps a normalised "key:" label to the field it fills.
var lineKeys = map[string]string{
	"species":              "species",
	"tree species":         "species",
	"common name":          "species",
	"scientific name":      "scientific",
	"botanical name":       "scientific",
	"health":               "status",
	"health status":        "status",
	"status":               "status",
	"condition":            "status",
	"health score":         "score",
	"score":                "score",
	"height":               "height",
	"estimated height":     "height",
	"height estimate":      "height",
	"height estimate m":    "height",
	"canopy":               "canopy",
	"canopy width":         "canopy",
	"canopy spread":        "canopy",
	"canopy width m":       "canopy",
	"age":                  "age",
	"estimated age":        "age",
	"age estimate":         "age",
	"age estimate years":   "age",
	"carbon":               "carbon",
	"carbon sequestration": "carbon",
	"carbon sequestered":   "carbon",
	"carbon kg per year":   "carbon",
	"value":                "value",
	"estimated value":      "value",
	"monetary value":       "value",
	"issues":               "issues",
	"problems":             "issues",
	"recommendations":      "recommendations",
	"recommendation":       "recommendations",
	"care recommendations": "recommendations",
	"answer":               "answer",
}

func (r *Result) fromLines(raw string) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(bulletRe.ReplaceAllString(strings.TrimSpace(line), ""))
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label := strings.TrimSpace(nonWordRe.ReplaceAllString(strings.ToLower(key), " "))
		field, ok := lineKeys[label]
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "*_`\"',")
		value = strings.TrimSpace(value)
		if value == "" || strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
			continue
		}
		r.fillFromLine(field, value)
	}
}

func (r *Result) fillFromLine(field, value string) {
	switch field {
	case "species":
		if !r.Species.IsKnown() && !isPlaceholder(value) {
			r.Species = Known(value)
		}
	case "scientific":
		if !r.ScientificName.IsKnown() && !isPlaceholder(value) {
			r.ScientificName = Known(value)
		}
	case "status":
		if r.HealthStatus.IsKnown() || isPlaceholder(value) {
			return
		}
		if st, ok := normaliseHealth(value); ok {
			r.HealthStatus = Known(st)
		} else if f, ok := leadingNumber(value); ok && !r.HealthScore.IsKnown() && f >= 0 && f <= 100 {
			r.HealthScore = Known(int(f + 0.5))
		}
	case "score":
		if f, ok := leadingNumber(value); ok && !r.HealthScore.IsKnown() && f >= 0 && f <= 100 {
			r.HealthScore = Known(int(f + 0.5))
		}
	case "height":
		fillPositive(&r.Height, value)
	case "canopy":
		fillPositive(&r.CanopyWidth, value)
	case "age":
		if r.Age.IsKnown() {
			return
		}
		if f, ok := leadingNumber(value); ok {
			if age, ok := ageYears(f); ok {
				r.Age = Known(age)
			}
		}
	case "carbon":
		fillPositive(&r.Carbon, value)
	case "value":
		fillPositive(&r.Value, value)
	case "issues":
		if !r.Issues.IsKnown() {
			var issues []string
			for _, s := range strings.FieldsFunc(value, func(c rune) bool { return c == ',' || c == ';' }) {
				if s = strings.TrimSpace(s); s != "" {
					issues = append(issues, s)
				}
			}
			r.Issues = Known(issues)
		}
	case "recommendations":
		if !r.Recommendations.IsKnown() {
			r.Recommendations = Known(value)
		}
	case "answer":
		if !r.Answer.IsKnown() {
			r.Answer = Known(value)
		}
	}
}

func fillPositive(f *Field[float64], value string) {
	if f.IsKnown() {
		return
	}
	if v, ok := leadingNumber(value); ok && v > 0 {
		*f = Known(v)
	}
}

// leadingNumber returns the first decimal number in s, ignoring thousands
// separators.
func leadingNumber(s string) (float64, bool) {
	m := numberRe.FindString(thousandsRe.ReplaceAllString(s, "$1$2"))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// maxAgeYears is older than any living tree.
const maxAgeYears = 6000

// ageYears rounds f to whole years; values outside (0, maxAgeYears] are not
// plausible ages.
func ageYears(f float64) (int, bool) {
	if !(f > 0 && f <= maxAgeYears) {
		return 0, false
	}
	return int(f + 0.5), true
}

// isPlaceholder reports empty or unknown values, and option lists such as
// "healthy|stressed|diseased" copied from the prompt.
func isPlaceholder(s string) bool {
	if strings.Contains(s, "|") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "n/a", "na", "none", "-":
		return true
	}
	return false
}

var (
	diseasedWords = []string{"diseased", "disease", "poor", "dying", "dead", "sick", "infected", "critical"}
	stressedWords = []string{"stressed", "stress", "unhealthy", "fair", "moderate", "average", "declining"}
	healthyWords  = []string{"healthy", "good", "excellent", "thriving", "vigorous"}
)

// normaliseHealth maps free-form health wording onto the status enum.
func normaliseHealth(s string) (domain.HealthStatus, bool) {
	words := strings.Fields(nonWordRe.ReplaceAllString(strings.ToLower(s), " "))
	has := func(set []string) bool {
		for _, w := range words {
			for _, c := range set {
				if w == c {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has(diseasedWords):
		return domain.HealthDiseased, true
	case has(stressedWords):
		return domain.HealthStressed, true
	case has(healthyWords):
		return domain.HealthHealthy, true
	}
	return "", false
}

func statusFromScore(score int) domain.HealthStatus {
	switch {
	case score >= 70:
		return domain.HealthHealthy
	case score >= 40:
		return domain.HealthStressed
	default:
		return domain.HealthDiseased
	}
}
