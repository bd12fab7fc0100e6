package bundle

// Shared conditional gates. Conditions referencing a prerequisite element
// stay undecided while that element is PENDING.

var condMarkersAbnormal = &Condition{
	Name:            "inflammatory markers abnormal",
	RequiresElement: "fi_inflammatory_markers",
	Test:            func(pc PatientContext) bool { return pc.InflammatoryMarkersAbnormal },
}

var condUAAbnormal = &Condition{
	Name:            "urinalysis abnormal",
	RequiresElement: "fi_urinalysis",
	Test:            func(pc PatientContext) bool { return pc.UAAbnormal },
}

var condDispositionHome = &Condition{
	Name:      "disposition home",
	Test:      func(pc PatientContext) bool { return pc.DispositionHome },
	Undecided: func(pc PatientContext) bool { return !pc.DispositionKnown },
}

var allInfantGroups = []AgeGroup{AgeGroup8To21, AgeGroup22To28, AgeGroup29To60}

// FebrileInfantBundle returns the febrile young infant (8-60 days) bundle.
// Infants 0-7 days fall outside the guideline; no element lists that group,
// so every element resolves NOT_APPLICABLE for them.
func FebrileInfantBundle() *GuidelineBundle {
	return &GuidelineBundle{
		BundleID: "febrile_infant",
		Name:     "Febrile Young Infant (8-60 days)",
		Elements: []BundleElement{
			{
				ElementID:       "fi_blood_culture",
				Name:            "Blood culture",
				Description:     "Blood culture obtained before antibiotics",
				Required:        true,
				TimeWindowHours: windowHours(2),
				DataSource:      DataSourceLab,
				Severity:        "high",
				Recommendation:  "Obtain blood culture within 2 hours of fever presentation",
				AgeGroups:       allInfantGroups,
				ResultCodes:     []string{"blood_culture"},
			},
			{
				ElementID:       "fi_urinalysis",
				Name:            "Urinalysis",
				Description:     "Urinalysis by catheterization or suprapubic aspiration",
				Required:        true,
				TimeWindowHours: windowHours(2),
				DataSource:      DataSourceLab,
				Severity:        "moderate",
				Recommendation:  "Obtain urinalysis within 2 hours of fever presentation",
				AgeGroups:       allInfantGroups,
				ResultCodes:     []string{"urine_wbc", "leukocyte_esterase"},
			},
			{
				ElementID:       "fi_inflammatory_markers",
				Name:            "Inflammatory markers",
				Description:     "Procalcitonin, ANC, and CRP panel",
				Required:        true,
				TimeWindowHours: windowHours(3),
				DataSource:      DataSourceLab,
				Severity:        "moderate",
				Recommendation:  "Send procalcitonin, CBC with differential, and CRP within 3 hours",
				AgeGroups:       allInfantGroups,
				ResultCodes:     []string{"procalcitonin", "anc", "crp"},
			},
			{
				ElementID:       "fi_urine_culture_ua_abnormal",
				Name:            "Urine culture",
				Description:     "Urine culture when urinalysis is abnormal",
				Required:        true,
				TimeWindowHours: windowHours(4),
				DataSource:      DataSourceLab,
				Severity:        "moderate",
				Recommendation:  "Send urine culture; urinalysis was abnormal",
				AgeGroups:       allInfantGroups,
				Condition:       condUAAbnormal,
				ResultCodes:     []string{"urine_culture"},
			},
			{
				ElementID:       "fi_lp_8_21d",
				Name:            "Lumbar puncture (8-21 days)",
				Description:     "CSF studies required for all febrile infants 8-21 days",
				Required:        true,
				TimeWindowHours: windowHours(4),
				DataSource:      DataSourceLab,
				Severity:        "high",
				Recommendation:  "Perform lumbar puncture with CSF culture, cell count, protein, and glucose",
				AgeGroups:       []AgeGroup{AgeGroup8To21},
				ResultCodes:     []string{"csf_culture", "csf_cell_count", "csf_protein", "csf_glucose"},
			},
			{
				ElementID:       "fi_lp_22_28d_im_abnormal",
				Name:            "Lumbar puncture (22-28 days, abnormal markers)",
				Description:     "CSF studies for infants 22-28 days with abnormal inflammatory markers",
				Required:        true,
				TimeWindowHours: windowHours(6),
				DataSource:      DataSourceLab,
				Severity:        "high",
				Recommendation:  "Perform lumbar puncture; inflammatory markers are abnormal",
				AgeGroups:       []AgeGroup{AgeGroup22To28},
				Condition:       condMarkersAbnormal,
				ResultCodes:     []string{"csf_culture", "csf_cell_count", "csf_protein", "csf_glucose"},
			},
			{
				ElementID:          "fi_parenteral_abx_8_21d",
				Name:               "Parenteral antibiotics (8-21 days)",
				Description:        "Empiric parenteral antibiotics for all febrile infants 8-21 days",
				Required:           true,
				TimeWindowHours:    windowHours(2),
				DataSource:         DataSourceMedication,
				Severity:           "critical",
				Recommendation:     "Start empiric parenteral antibiotics within 2 hours",
				AgeGroups:          []AgeGroup{AgeGroup8To21},
				MedicationCategory: MedCategoryBroadSpectrumAntibiotic,
			},
			{
				ElementID:          "fi_parenteral_abx_22_28d_im_abnormal",
				Name:               "Parenteral antibiotics (22-28 days, abnormal markers)",
				Description:        "Empiric antibiotics for infants 22-28 days with abnormal inflammatory markers",
				Required:           true,
				TimeWindowHours:    windowHours(4),
				DataSource:         DataSourceMedication,
				Severity:           "critical",
				Recommendation:     "Start empiric parenteral antibiotics; inflammatory markers are abnormal",
				AgeGroups:          []AgeGroup{AgeGroup22To28},
				Condition:          condMarkersAbnormal,
				MedicationCategory: MedCategoryBroadSpectrumAntibiotic,
			},
			{
				ElementID:          "fi_hsv_risk_assessment",
				Name:               "HSV risk assessment",
				Description:        "Documented HSV risk assessment or empiric acyclovir",
				Required:           true,
				TimeWindowHours:    windowHours(12),
				DataSource:         DataSourceAgeStratified,
				Severity:           "moderate",
				Recommendation:     "Document HSV risk factors or start empiric acyclovir pending CSF HSV PCR",
				AgeGroups:          []AgeGroup{AgeGroup8To21, AgeGroup22To28},
				MedicationCategory: MedCategoryAntiviralHSV,
				Keywords:           []string{"hsv", "herpes", "acyclovir"},
			},
			{
				ElementID:       "fi_admission_8_21d",
				Name:            "Hospital admission (8-21 days)",
				Description:     "All febrile infants 8-21 days are admitted",
				Required:        true,
				TimeWindowHours: windowHours(6),
				DataSource:      DataSourceNote,
				Severity:        "high",
				Recommendation:  "Admit to inpatient unit for monitoring pending cultures",
				AgeGroups:       []AgeGroup{AgeGroup8To21},
				Keywords:        []string{"admit", "admitted", "admission", "inpatient"},
			},
			{
				ElementID:       "fi_admission_22_28d_im_abnormal",
				Name:            "Hospital admission (22-28 days, abnormal markers)",
				Description:     "Admission for infants 22-28 days with abnormal inflammatory markers",
				Required:        true,
				TimeWindowHours: windowHours(6),
				DataSource:      DataSourceNote,
				Severity:        "high",
				Recommendation:  "Admit to inpatient unit; inflammatory markers are abnormal",
				AgeGroups:       []AgeGroup{AgeGroup22To28},
				Condition:       condMarkersAbnormal,
				Keywords:        []string{"admit", "admitted", "admission", "inpatient"},
			},
			{
				ElementID:       "fi_procalcitonin_29_60d",
				Name:            "Procalcitonin (29-60 days)",
				Description:     "Procalcitonin drives risk stratification at 29-60 days",
				Required:        true,
				TimeWindowHours: windowHours(3),
				DataSource:      DataSourceLab,
				Severity:        "moderate",
				Recommendation:  "Send procalcitonin to complete risk stratification",
				AgeGroups:       []AgeGroup{AgeGroup29To60},
				ResultCodes:     []string{"procalcitonin"},
			},
			{
				ElementID:      "fi_discharge_checklist_home",
				Name:           "Discharge checklist",
				Description:    "Return precautions and follow-up documented before discharge home",
				Required:       true,
				DataSource:     DataSourceNote,
				Severity:       "moderate",
				Recommendation: "Document return precautions and 24-hour follow-up before discharge",
				AgeGroups:      allInfantGroups,
				Condition:      condDispositionHome,
				Keywords:       []string{"discharge checklist", "return precautions", "follow-up", "follow up"},
			},
		},
	}
}

// PediatricSepsisBundle returns the pediatric sepsis first-hours bundle.
// No age gating: the bundle applies to every triggered patient.
func PediatricSepsisBundle() *GuidelineBundle {
	return &GuidelineBundle{
		BundleID: "pediatric_sepsis",
		Name:     "Pediatric Sepsis (first hours)",
		Elements: []BundleElement{
			{
				ElementID:       "sepsis_lactate",
				Name:            "Initial lactate",
				Description:     "Serum lactate drawn after sepsis recognition",
				Required:        true,
				TimeWindowHours: windowHours(3),
				DataSource:      DataSourceLab,
				Severity:        "high",
				Recommendation:  "Draw serum lactate within 3 hours of sepsis recognition",
				ResultCodes:     []string{"lactate"},
			},
			{
				ElementID:       "sepsis_blood_culture",
				Name:            "Blood culture",
				Description:     "Blood culture before antibiotic administration",
				Required:        true,
				TimeWindowHours: windowHours(1),
				DataSource:      DataSourceLab,
				Severity:        "high",
				Recommendation:  "Obtain blood culture before starting antibiotics",
				ResultCodes:     []string{"blood_culture"},
			},
			{
				ElementID:          "sepsis_antibiotics",
				Name:               "Broad-spectrum antibiotics",
				Description:        "Broad-spectrum antibiotics within the first hour",
				Required:           true,
				TimeWindowHours:    windowHours(1),
				DataSource:         DataSourceMedication,
				Severity:           "critical",
				Recommendation:     "Administer broad-spectrum antibiotics within 1 hour",
				MedicationCategory: MedCategoryBroadSpectrumAntibiotic,
			},
			{
				ElementID:          "sepsis_fluid_bolus",
				Name:               "Crystalloid fluid bolus",
				Description:        "Rapid crystalloid bolus for patients meeting shock criteria",
				Required:           true,
				TimeWindowHours:    windowHours(1),
				DataSource:         DataSourceMedication,
				Severity:           "critical",
				Recommendation:     "Give 20 mL/kg crystalloid bolus; shock criteria are met",
				MedicationCategory: MedCategoryFluidBolus,
			},
			{
				ElementID:       "sepsis_repeat_lactate",
				Name:            "Repeat lactate",
				Description:     "Repeat lactate when the initial value exceeded 2.0 mmol/L",
				Required:        true,
				TimeWindowHours: windowHours(6),
				DataSource:      DataSourceLab,
				Severity:        "high",
				Recommendation:  "Repeat lactate to assess clearance; initial value exceeded 2.0",
				DependsOn:       &DependencyEdge{ElementID: "sepsis_lactate", Threshold: 2.0},
				ResultCodes:     []string{"lactate"},
			},
			{
				ElementID:       "sepsis_reassessment_note",
				Name:            "Antibiotic reassessment",
				Description:     "Documented antibiotic reassessment between 48 and 72 hours",
				Required:        true,
				TimeWindowHours: windowHours(72),
				DataSource:      DataSourceNote,
				Severity:        "moderate",
				Recommendation:  "Document antibiotic reassessment against culture results at 48-72 hours",
				Keywords:        []string{"reassess", "de-escalat", "antibiotic review", "culture review"},
				NoteOpenHours:   windowHours(48),
			},
		},
	}
}
