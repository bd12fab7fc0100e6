package evidence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// FHIRConfig holds the connection settings for a FHIR R4 evidence server.
type FHIRConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// FHIRClient implements Source against a FHIR R4 REST API. Element
// configuration uses canonical result codes (e.g. "procalcitonin"); the
// client translates them to LOINC for searches and back for results.
type FHIRClient struct {
	http   *resty.Client
	logger zerolog.Logger

	// PageSize caps the _count search parameter per query.
	PageSize int

	toLOINC   map[string]string
	fromLOINC map[string]string
}

// labCodes maps canonical lab codes to the LOINC codes queried for them.
var labCodes = map[string]string{
	"blood_culture":      "600-7",
	"urine_culture":      "630-4",
	"urine_wbc":          "5821-4",
	"leukocyte_esterase": "5799-2",
	"procalcitonin":      "33959-8",
	"anc":                "751-8",
	"crp":                "1988-5",
	"lactate":            "2524-7",
	"csf_culture":        "606-4",
	"csf_cell_count":     "806-0",
	"csf_protein":        "2880-3",
	"csf_glucose":        "2342-4",
}

// vitalCodes maps LOINC vital sign codes to the canonical names the
// engine's shock criteria use.
var vitalCodes = map[string]string{
	"8480-6": VitalSystolicBP,
	"8478-0": VitalMeanArtPres,
	"8867-4": VitalHeartRate,
	"8310-5": VitalTemperature,
}

// NewFHIRClient creates a client for the given server. Token may be empty
// for servers behind a trusted network boundary.
func NewFHIRClient(cfg FHIRConfig, logger zerolog.Logger) *FHIRClient {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/fhir+json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	fromLOINC := make(map[string]string, len(labCodes))
	for canonical, loinc := range labCodes {
		fromLOINC[loinc] = canonical
	}

	return &FHIRClient{
		http:      httpClient,
		logger:    logger,
		PageSize:  100,
		toLOINC:   labCodes,
		fromLOINC: fromLOINC,
	}
}

// LabResults searches Observation resources in the laboratory category.
func (c *FHIRClient) LabResults(ctx context.Context, patientID string, codes []string, since time.Time) ([]LabResult, error) {
	var bundle fhirBundle
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"patient":  patientID,
			"category": "laboratory",
			"code":     c.searchCodes(codes),
			"date":     "ge" + since.UTC().Format(time.RFC3339),
			"_sort":    "date",
			"_count":   strconv.Itoa(c.PageSize),
		}).
		SetResult(&bundle).
		Get("/Observation")
	if err != nil {
		return nil, fmt.Errorf("observation search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("observation search returned %s", resp.Status())
	}

	results := make([]LabResult, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var obs fhirObservation
		if err := json.Unmarshal(entry.Resource, &obs); err != nil {
			c.logger.Warn().Err(err).Str("patient_id", patientID).Msg("skipping unparseable observation")
			continue
		}
		code := c.canonicalLabCode(obs.Code)
		ts, ok := parseFHIRTime(obs.EffectiveDateTime, obs.Issued)
		if code == "" || !ok {
			continue
		}
		r := LabResult{Code: code, EffectiveTime: ts}
		switch {
		case obs.ValueQuantity != nil:
			r.Value = obs.ValueQuantity.Value
			r.Unit = obs.ValueQuantity.Unit
		case obs.ValueString != "":
			r.ValueText = obs.ValueString
		case obs.ValueCodeableConcept != nil:
			r.ValueText = conceptText(*obs.ValueCodeableConcept)
		}
		results = append(results, r)
	}
	return results, nil
}

// MedicationAdministrations searches completed MedicationAdministration
// resources for the patient.
func (c *FHIRClient) MedicationAdministrations(ctx context.Context, patientID string, since time.Time) ([]MedicationAdministration, error) {
	var bundle fhirBundle
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"patient":        patientID,
			"status":         "completed",
			"effective-time": "ge" + since.UTC().Format(time.RFC3339),
			"_count":         strconv.Itoa(c.PageSize),
		}).
		SetResult(&bundle).
		Get("/MedicationAdministration")
	if err != nil {
		return nil, fmt.Errorf("medication administration search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("medication administration search returned %s", resp.Status())
	}

	admins := make([]MedicationAdministration, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var ma fhirMedicationAdministration
		if err := json.Unmarshal(entry.Resource, &ma); err != nil {
			c.logger.Warn().Err(err).Str("patient_id", patientID).Msg("skipping unparseable medication administration")
			continue
		}
		ts, ok := parseFHIRTime(ma.EffectiveDateTime)
		if !ok {
			continue
		}
		a := MedicationAdministration{AdminTime: ts}
		if ma.MedicationCodeableConcept != nil {
			a.Name = conceptText(*ma.MedicationCodeableConcept)
		}
		if ma.Dosage != nil {
			if ma.Dosage.Dose != nil {
				a.Dose = strconv.FormatFloat(ma.Dosage.Dose.Value, 'f', -1, 64)
				if ma.Dosage.Dose.Unit != "" {
					a.Dose += " " + ma.Dosage.Dose.Unit
				}
			} else {
				a.Dose = ma.Dosage.Text
			}
			if ma.Dosage.Route != nil {
				a.Route = conceptText(*ma.Dosage.Route)
			}
		}
		if a.Name == "" {
			continue
		}
		admins = append(admins, a)
	}
	return admins, nil
}

// VitalSigns searches Observation resources in the vital-signs category.
func (c *FHIRClient) VitalSigns(ctx context.Context, patientID string, since time.Time) ([]VitalSign, error) {
	var bundle fhirBundle
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"patient":  patientID,
			"category": "vital-signs",
			"date":     "ge" + since.UTC().Format(time.RFC3339),
			"_sort":    "date",
			"_count":   strconv.Itoa(c.PageSize),
		}).
		SetResult(&bundle).
		Get("/Observation")
	if err != nil {
		return nil, fmt.Errorf("vital signs search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("vital signs search returned %s", resp.Status())
	}

	vitals := make([]VitalSign, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var obs fhirObservation
		if err := json.Unmarshal(entry.Resource, &obs); err != nil {
			continue
		}
		code := c.canonicalVitalCode(obs.Code)
		ts, ok := parseFHIRTime(obs.EffectiveDateTime, obs.Issued)
		if code == "" || !ok || obs.ValueQuantity == nil {
			continue
		}
		vitals = append(vitals, VitalSign{
			Code:          code,
			Value:         obs.ValueQuantity.Value,
			EffectiveTime: ts,
		})
	}
	return vitals, nil
}

// RecentNotes searches DocumentReference resources. Note text is taken
// from the first text attachment; base64 payloads are decoded.
func (c *FHIRClient) RecentNotes(ctx context.Context, patientID string, since time.Time, types []string) ([]Note, error) {
	params := map[string]string{
		"patient": patientID,
		"date":    "ge" + since.UTC().Format(time.RFC3339),
		"_sort":   "date",
		"_count":  strconv.Itoa(c.PageSize),
	}
	if len(types) > 0 {
		params["type:text"] = strings.Join(types, ",")
	}

	var bundle fhirBundle
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&bundle).
		Get("/DocumentReference")
	if err != nil {
		return nil, fmt.Errorf("document reference search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("document reference search returned %s", resp.Status())
	}

	notes := make([]Note, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var doc fhirDocumentReference
		if err := json.Unmarshal(entry.Resource, &doc); err != nil {
			continue
		}
		ts, ok := parseFHIRTime(doc.Date)
		if !ok {
			continue
		}
		n := Note{Date: ts, Text: doc.Description}
		if doc.Type != nil {
			n.Type = conceptText(*doc.Type)
		}
		for _, content := range doc.Content {
			if content.Attachment.Data == "" {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(content.Attachment.Data)
			if err != nil {
				continue
			}
			n.Text = string(decoded)
			break
		}
		if n.Text == "" {
			continue
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// Patient fetches demographics by FHIR patient id.
func (c *FHIRClient) Patient(ctx context.Context, patientID string) (*Patient, error) {
	var fp fhirPatient
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&fp).
		Get("/Patient/" + url.PathEscape(patientID))
	if err != nil {
		return nil, fmt.Errorf("patient read: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("patient read returned %s", resp.Status())
	}

	p := &Patient{ID: fp.ID, Gender: fp.Gender}
	if fp.BirthDate != "" {
		if bd, err := time.Parse("2006-01-02", fp.BirthDate); err == nil {
			p.BirthDate = &bd
		}
	}
	if len(fp.Name) > 0 {
		parts := append([]string{}, fp.Name[0].Given...)
		if fp.Name[0].Family != "" {
			parts = append(parts, fp.Name[0].Family)
		}
		p.Name = strings.Join(parts, " ")
	}
	return p, nil
}

// searchCodes builds the code search parameter, translating canonical
// codes to LOINC. Unmapped codes are passed through unchanged so servers
// indexed on local codes still match.
func (c *FHIRClient) searchCodes(codes []string) string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if loinc, ok := c.toLOINC[code]; ok {
			out = append(out, loinc)
		} else {
			out = append(out, code)
		}
	}
	return strings.Join(out, ",")
}

func (c *FHIRClient) canonicalLabCode(concept fhirCodeableConcept) string {
	for _, coding := range concept.Coding {
		if canonical, ok := c.fromLOINC[coding.Code]; ok {
			return canonical
		}
		if _, ok := c.toLOINC[coding.Code]; ok {
			return coding.Code
		}
	}
	if len(concept.Coding) > 0 {
		return concept.Coding[0].Code
	}
	return ""
}

func (c *FHIRClient) canonicalVitalCode(concept fhirCodeableConcept) string {
	for _, coding := range concept.Coding {
		if canonical, ok := vitalCodes[coding.Code]; ok {
			return canonical
		}
	}
	if len(concept.Coding) > 0 {
		return concept.Coding[0].Code
	}
	return ""
}

// parseFHIRTime tries each candidate string against the timestamp formats
// FHIR servers emit, returning the first parse that succeeds.
func parseFHIRTime(candidates ...string) (time.Time, bool) {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, candidate); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func conceptText(concept fhirCodeableConcept) string {
	if concept.Text != "" {
		return concept.Text
	}
	for _, coding := range concept.Coding {
		if coding.Display != "" {
			return coding.Display
		}
	}
	if len(concept.Coding) > 0 {
		return concept.Coding[0].Code
	}
	return ""
}

// Minimal FHIR R4 wire types for the resources the client reads.

type fhirBundle struct {
	ResourceType string      `json:"resourceType"`
	Total        int         `json:"total"`
	Entry        []fhirEntry `json:"entry"`
}

type fhirEntry struct {
	Resource json.RawMessage `json:"resource"`
}

type fhirCoding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

type fhirCodeableConcept struct {
	Coding []fhirCoding `json:"coding"`
	Text   string       `json:"text"`
}

type fhirQuantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

type fhirObservation struct {
	Code                 fhirCodeableConcept  `json:"code"`
	ValueQuantity        *fhirQuantity        `json:"valueQuantity"`
	ValueString          string               `json:"valueString"`
	ValueCodeableConcept *fhirCodeableConcept `json:"valueCodeableConcept"`
	EffectiveDateTime    string               `json:"effectiveDateTime"`
	Issued               string               `json:"issued"`
}

type fhirDosage struct {
	Text  string               `json:"text"`
	Route *fhirCodeableConcept `json:"route"`
	Dose  *fhirQuantity        `json:"dose"`
}

type fhirMedicationAdministration struct {
	MedicationCodeableConcept *fhirCodeableConcept `json:"medicationCodeableConcept"`
	EffectiveDateTime         string               `json:"effectiveDateTime"`
	Dosage                    *fhirDosage          `json:"dosage"`
}

type fhirAttachment struct {
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type fhirContent struct {
	Attachment fhirAttachment `json:"attachment"`
}

type fhirDocumentReference struct {
	Type        *fhirCodeableConcept `json:"type"`
	Date        string               `json:"date"`
	Description string               `json:"description"`
	Content     []fhirContent        `json:"content"`
}

type fhirHumanName struct {
	Family string   `json:"family"`
	Given  []string `json:"given"`
}

type fhirPatient struct {
	ID        string          `json:"id"`
	BirthDate string          `json:"birthDate"`
	Gender    string          `json:"gender"`
	Name      []fhirHumanName `json:"name"`
}
