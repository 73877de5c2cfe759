package domain

import "time"

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthStressed HealthStatus = "stressed"
	HealthDiseased HealthStatus = "diseased"
	HealthUnknown  HealthStatus = "unknown"
)

// Valid reports whether h is one of the known health statuses.
func (h HealthStatus) Valid() bool {
	switch h {
	case HealthHealthy, HealthStressed, HealthDiseased, HealthUnknown:
		return true
	}
	return false
}

// TreeRecord is one saved tree in the portfolio. Optional estimates are nil
// when the analysis could not determine them.
type TreeRecord struct {
	ID                         string       `json:"id"`
	Name                       string       `json:"name"`
	Species                    string       `json:"species"`
	ScientificName             string       `json:"scientific_name,omitempty"`
	HealthStatus               HealthStatus `json:"health_status"`
	HealthScore                *int         `json:"health_score,omitempty"`
	HeightEstimateMeters       *float64     `json:"height_estimate_m,omitempty"`
	CanopyWidthEstimateMeters  *float64     `json:"canopy_width_estimate_m,omitempty"`
	AgeEstimateYears           *int         `json:"age_estimate_years,omitempty"`
	CarbonSequesteredKgPerYear *float64     `json:"carbon_sequestered_kg_per_year,omitempty"`
	MonetaryValueEstimate      *float64     `json:"monetary_value_estimate,omitempty"`
	Location                   string       `json:"location,omitempty"`
	Notes                      string       `json:"notes,omitempty"`
	ImageReference             string       `json:"image_reference,omitempty"`
	CareLogs                   []CareLog    `json:"care_logs"`
	CreatedAt                  time.Time    `json:"created_at"`
	UpdatedAt                  time.Time    `json:"updated_at"`
}

type CareLog struct {
	Activity string    `json:"activity"`
	Notes    string    `json:"notes,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

// PromptTemplate is a catalog entry. Template may contain {{placeholder}}
// markers filled by the prompt formatter.
type PromptTemplate struct {
	Key            string   `json:"key"`
	Template       string   `json:"template"`
	Context        string   `json:"context,omitempty"`
	ScientificName string   `json:"scientific_name,omitempty"`
	CareTips       []string `json:"care_tips,omitempty"`
	CarbonFactor   float64  `json:"carbon_factor,omitempty"`
	NativeSpecies  bool     `json:"native_species,omitempty"`
}

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatTurn struct {
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession summarises one logged conversation.
type ChatSession struct {
	ID       string    `json:"id"`
	TreeID   string    `json:"tree_id,omitempty"`
	Turns    int       `json:"turns"`
	LastTurn time.Time `json:"last_turn"`
}
