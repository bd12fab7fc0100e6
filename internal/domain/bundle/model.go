package bundle

// DataSource selects the checker variant that evaluates an element.
type DataSource string

const (
	DataSourceLab           DataSource = "lab"
	DataSourceMedication    DataSource = "medication"
	DataSourceNote          DataSource = "note"
	DataSourceAgeStratified DataSource = "age_stratified"
)

// Medication categories referenced by element definitions.
const (
	MedCategoryBroadSpectrumAntibiotic = "broad_spectrum_antibiotic"
	MedCategoryFluidBolus              = "fluid_bolus"
	MedCategoryAntiviralHSV            = "antiviral_hsv"
)

// GuidelineBundle is an immutable set of required clinical actions tied to
// a published guideline. Element order is stable for display; evaluation
// outcomes do not depend on it.
type GuidelineBundle struct {
	BundleID string          `json:"bundle_id"`
	Name     string          `json:"name"`
	Elements []BundleElement `json:"elements"`
}

// Element returns the element with the given id, if present.
func (b *GuidelineBundle) Element(elementID string) (*BundleElement, bool) {
	for i := range b.Elements {
		if b.Elements[i].ElementID == elementID {
			return &b.Elements[i], true
		}
	}
	return nil, false
}

// BundleElement is one required action within a bundle. A nil
// TimeWindowHours means the element has no deadline and can never become
// NOT_MET from elapsed time alone.
type BundleElement struct {
	ElementID       string     `json:"element_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Required        bool       `json:"required"`
	TimeWindowHours *float64   `json:"time_window_hours,omitempty"`
	DataSource      DataSource `json:"data_source"`
	Severity        string     `json:"severity,omitempty"`
	Recommendation  string     `json:"recommendation,omitempty"`

	// Applicability gates, resolved before the checker runs.
	AgeGroups []AgeGroup      `json:"age_groups,omitempty"`
	Condition *Condition      `json:"condition,omitempty"`
	DependsOn *DependencyEdge `json:"depends_on,omitempty"`

	// Checker configuration.
	ResultCodes        []string `json:"result_codes,omitempty"`
	MedicationCategory string   `json:"medication_category,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
	NoteTypes          []string `json:"note_types,omitempty"`
	// NoteOpenHours delays the note search window: notes dated before
	// trigger + NoteOpenHours never qualify, independent of the deadline.
	NoteOpenHours *float64 `json:"note_open_hours,omitempty"`
}

// Condition gates an element on derived patient facts. While the element
// named by RequiresElement is still PENDING, or Undecided reports true,
// the condition cannot be resolved and the gated element stays PENDING.
type Condition struct {
	Name            string                       `json:"name"`
	RequiresElement string                       `json:"requires_element,omitempty"`
	Test            func(pc PatientContext) bool `json:"-"`
	Undecided       func(pc PatientContext) bool `json:"-"`
}

// DependencyEdge marks a value-dependent repeat element: the element is
// required only when the prerequisite element resolved MET with a value
// strictly above Threshold, and completion needs a second, later result.
type DependencyEdge struct {
	ElementID string  `json:"element_id"`
	Threshold float64 `json:"threshold"`
}

func windowHours(h float64) *float64 { return &h }
