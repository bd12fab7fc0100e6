package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/deviation"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

type fakeEpisodeStore struct {
	mu        sync.Mutex
	episodes  []*episode.Episode
	listErr   error
	statusErr error
	listCalls int
}

func (s *fakeEpisodeStore) ListActive(_ context.Context) ([]*episode.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*episode.Episode
	for _, ep := range s.episodes {
		if ep.Status == episode.StatusActive {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *fakeEpisodeStore) UpdateStatus(_ context.Context, id uuid.UUID, status episode.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	for _, ep := range s.episodes {
		if ep.ID == id {
			ep.Status = status
		}
	}
	return nil
}

func (s *fakeEpisodeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

type fakeResultStore struct {
	updates int
	err     error
}

func (s *fakeResultStore) Update(_ context.Context, _ *episode.ElementCheckResult) error {
	s.updates++
	return s.err
}

type fakeLedger struct {
	seen    map[string]bool
	emitted []*deviation.Deviation
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: make(map[string]bool)}
}

func (l *fakeLedger) EmitOnce(_ context.Context, d *deviation.Deviation) bool {
	if l.seen[d.Key()] {
		return false
	}
	l.seen[d.Key()] = true
	l.emitted = append(l.emitted, d)
	return true
}

func (l *fakeLedger) countFor(elementID string) int {
	n := 0
	for _, d := range l.emitted {
		if d.ElementID == elementID {
			n++
		}
	}
	return n
}

// buildEpisode creates an active episode with the PENDING result rows the
// episode service would have seeded from the bundle definition.
func buildEpisode(b *bundle.GuidelineBundle, ageDays *int) *episode.Episode {
	ep := &episode.Episode{
		ID:          uuid.New(),
		PatientID:   "pat-1",
		EncounterID: "enc-1",
		BundleID:    b.BundleID,
		TriggerTime: testTrigger,
		Status:      episode.StatusActive,
		AgeDays:     ageDays,
	}
	for i := range b.Elements {
		el := &b.Elements[i]
		ep.Results = append(ep.Results, &episode.ElementCheckResult{
			ID:        uuid.New(),
			EpisodeID: ep.ID,
			ElementID: el.ElementID,
			Status:    episode.ResultPending,
			Deadline:  bundle.Deadline(testTrigger, el.TimeWindowHours),
		})
	}
	return ep
}

type evalFixture struct {
	store   *fakeEpisodeStore
	results *fakeResultStore
	src     *evidence.MockSource
	ledger  *fakeLedger
	ev      *Evaluator
}

func newEvalFixture(cat Catalog, eps ...*episode.Episode) *evalFixture {
	f := &evalFixture{
		store:   &fakeEpisodeStore{episodes: eps},
		results: &fakeResultStore{},
		src:     evidence.NewMockSource(),
		ledger:  newFakeLedger(),
	}
	f.ev = NewEvaluator(f.store, f.results, cat, f.src, f.ledger, nil, zerolog.Nop())
	return f
}

func (f *evalFixture) runAt(t *testing.T, ts time.Time) CycleStats {
	t.Helper()
	f.ev.Clock = func() time.Time { return ts }
	stats, err := f.ev.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	return stats
}

func antibioticsOnlyBundle() *bundle.GuidelineBundle {
	return &bundle.GuidelineBundle{
		BundleID: "abx_1h",
		Name:     "Antibiotics within the hour",
		Elements: []bundle.BundleElement{{
			ElementID:          "abx",
			Name:               "Broad-spectrum antibiotics",
			Required:           true,
			TimeWindowHours:    wh(1),
			DataSource:         bundle.DataSourceMedication,
			Severity:           "critical",
			Recommendation:     "Give antibiotics within 1 hour",
			MedicationCategory: bundle.MedCategoryBroadSpectrumAntibiotic,
		}},
	}
}

// abxPlusReviewBundle pairs the 1-hour antibiotic element with a long
// documentation element so the episode outlives the antibiotic deadline.
func abxPlusReviewBundle() *bundle.GuidelineBundle {
	b := antibioticsOnlyBundle()
	b.BundleID = "abx_review"
	b.Elements = append(b.Elements, bundle.BundleElement{
		ElementID:       "review",
		Name:            "Treatment review",
		Required:        true,
		TimeWindowHours: wh(72),
		DataSource:      bundle.DataSourceNote,
		Keywords:        []string{"review"},
	})
	return b
}

func TestEvaluator_MissedDeadlineLifecycle(t *testing.T) {
	b := antibioticsOnlyBundle()
	ep := buildEpisode(b, nil)
	f := newEvalFixture(bundle.NewCatalog(b), ep)

	stats := f.runAt(t, at(0.5))
	if got := ep.Result("abx").Status; got != episode.ResultPending {
		t.Fatalf("expected PENDING inside window, got %s", got)
	}
	if stats.Completed != 0 || stats.Deviations != 0 || stats.StillActive != 1 {
		t.Errorf("unexpected stats inside window: %+v", stats)
	}

	stats = f.runAt(t, at(1.5))
	if got := ep.Result("abx").Status; got != episode.ResultNotMet {
		t.Fatalf("expected NOT_MET after deadline, got %s", got)
	}
	if stats.Deviations != 1 || stats.Completed != 1 || stats.StillActive != 0 {
		t.Errorf("unexpected stats at expiry: %+v", stats)
	}
	if ep.Status != episode.StatusComplete {
		t.Errorf("expected episode COMPLETE, got %s", ep.Status)
	}

	d := f.ledger.emitted[0]
	if d.ElementID != "abx" || d.BundleID != "abx_1h" || d.PatientID != "pat-1" {
		t.Errorf("unexpected deviation identity: %+v", d)
	}
	if d.Severity != "critical" || d.Title != "Bundle deviation: Broad-spectrum antibiotics" {
		t.Errorf("unexpected deviation content: %+v", d)
	}
	if !d.EmittedAt.Equal(at(1.5)) {
		t.Errorf("expected emission at evaluation instant, got %v", d.EmittedAt)
	}

	for i := 0; i < 5; i++ {
		f.runAt(t, at(2+float64(i)))
	}
	if len(f.ledger.emitted) != 1 {
		t.Errorf("expected exactly one deviation ever, got %d", len(f.ledger.emitted))
	}
}

func TestEvaluator_DefaultSeverityIsModerate(t *testing.T) {
	b := antibioticsOnlyBundle()
	b.Elements[0].Severity = ""
	ep := buildEpisode(b, nil)
	f := newEvalFixture(bundle.NewCatalog(b), ep)

	f.runAt(t, at(2))
	if len(f.ledger.emitted) != 1 {
		t.Fatalf("expected one deviation, got %d", len(f.ledger.emitted))
	}
	if f.ledger.emitted[0].Severity != "moderate" {
		t.Errorf("expected moderate severity fallback, got %s", f.ledger.emitted[0].Severity)
	}
}

func TestEvaluator_AgeStratification(t *testing.T) {
	ep := buildEpisode(bundle.FebrileInfantBundle(), intPtr(15))
	f := newEvalFixture(bundle.DefaultCatalog(), ep)
	f.src.AddLab(evidence.LabResult{Code: "csf_culture", ValueText: "pending", EffectiveTime: at(3)})

	stats := f.runAt(t, at(3.5))

	lp := ep.Result("fi_lp_8_21d")
	if lp.Status != episode.ResultMet {
		t.Fatalf("expected fi_lp_8_21d MET, got %s", lp.Status)
	}
	if lp.CompletedAt == nil || !lp.CompletedAt.Equal(at(3)) {
		t.Errorf("expected completion at CSF result time, got %v", lp.CompletedAt)
	}

	outOfScope := []string{
		"fi_lp_22_28d_im_abnormal",
		"fi_parenteral_abx_22_28d_im_abnormal",
		"fi_admission_22_28d_im_abnormal",
		"fi_procalcitonin_29_60d",
	}
	for _, id := range outOfScope {
		if got := ep.Result(id).Status; got != episode.ResultNotApplicable {
			t.Errorf("%s: expected NOT_APPLICABLE for an 8-21 day infant, got %s", id, got)
		}
	}

	// Blood culture, urinalysis, inflammatory markers, and parenteral
	// antibiotics all expired unmet by 3.5 hours.
	if stats.Deviations != 4 {
		t.Errorf("expected 4 deviations, got %d", stats.Deviations)
	}
	if stats.StillActive != 1 {
		t.Errorf("expected episode still active, got %+v", stats)
	}
}

func TestEvaluator_NormalMarkersReleaseConditionalElements(t *testing.T) {
	ep := buildEpisode(bundle.FebrileInfantBundle(), intPtr(25))
	f := newEvalFixture(bundle.DefaultCatalog(), ep)
	f.src.AddLab(evidence.LabResult{Code: "procalcitonin", Value: 0.2, EffectiveTime: at(1)})
	f.src.AddLab(evidence.LabResult{Code: "anc", Value: 2000, EffectiveTime: at(1)})
	f.src.AddLab(evidence.LabResult{Code: "crp", Value: 0.5, EffectiveTime: at(1)})

	f.runAt(t, at(2))

	if got := ep.Result("fi_inflammatory_markers").Status; got != episode.ResultMet {
		t.Fatalf("expected inflammatory markers MET, got %s", got)
	}
	conditional := []string{
		"fi_lp_22_28d_im_abnormal",
		"fi_parenteral_abx_22_28d_im_abnormal",
		"fi_admission_22_28d_im_abnormal",
	}
	for _, id := range conditional {
		if got := ep.Result(id).Status; got != episode.ResultNotApplicable {
			t.Errorf("%s: expected NOT_APPLICABLE with normal markers, got %s", id, got)
		}
	}

	lp := ep.Result("fi_lp_22_28d_im_abnormal")
	if lp.Notes == nil || *lp.Notes != "conditional requirement not met (inflammatory markers abnormal)" {
		t.Errorf("unexpected note: %v", lp.Notes)
	}
}

func TestEvaluator_AbnormalMarkersActivateConditionalElements(t *testing.T) {
	ep := buildEpisode(bundle.FebrileInfantBundle(), intPtr(25))
	f := newEvalFixture(bundle.DefaultCatalog(), ep)
	f.src.AddLab(evidence.LabResult{Code: "anc", Value: 4500, EffectiveTime: at(1)})

	f.runAt(t, at(2))
	if got := ep.Result("fi_lp_22_28d_im_abnormal").Status; got != episode.ResultPending {
		t.Fatalf("expected conditional LP to activate and wait, got %s", got)
	}

	f.src.AddLab(evidence.LabResult{Code: "csf_culture", ValueText: "pending", EffectiveTime: at(5)})
	f.runAt(t, at(5.5))

	lp := ep.Result("fi_lp_22_28d_im_abnormal")
	if lp.Status != episode.ResultMet {
		t.Fatalf("expected conditional LP MET, got %s", lp.Status)
	}
	if lp.CompletedAt == nil || !lp.CompletedAt.Equal(at(5)) {
		t.Errorf("expected completion at CSF result time, got %v", lp.CompletedAt)
	}

	// The 4-hour conditional antibiotic window expired with no
	// administration on record.
	if got := ep.Result("fi_parenteral_abx_22_28d_im_abnormal").Status; got != episode.ResultNotMet {
		t.Errorf("expected conditional antibiotics NOT_MET, got %s", got)
	}
	if f.ledger.countFor("fi_parenteral_abx_22_28d_im_abnormal") != 1 {
		t.Errorf("expected one deviation for conditional antibiotics")
	}
}

func TestEvaluator_RepeatLactateLifecycle(t *testing.T) {
	ep := buildEpisode(bundle.PediatricSepsisBundle(), intPtr(30))
	f := newEvalFixture(bundle.DefaultCatalog(), ep)
	f.src.AddLab(evidence.LabResult{Code: "lactate", Value: 3.5, EffectiveTime: at(1)})
	f.src.AddLab(evidence.LabResult{Code: "blood_culture", ValueText: "no growth", EffectiveTime: at(0.5)})
	f.src.AddMedication(evidence.MedicationAdministration{Name: "Ceftriaxone", Dose: "1g", AdminTime: at(0.5)})

	stats := f.runAt(t, at(1.5))

	lactate := ep.Result("sepsis_lactate")
	if lactate.Status != episode.ResultMet || lactate.Value == nil || *lactate.Value != 3.5 {
		t.Fatalf("unexpected initial lactate result: %+v", lactate)
	}
	if got := ep.Result("sepsis_repeat_lactate").Status; got != episode.ResultPending {
		t.Fatalf("expected repeat lactate PENDING after elevated initial, got %s", got)
	}
	if got := ep.Result("sepsis_fluid_bolus").Status; got != episode.ResultNotApplicable {
		t.Errorf("expected fluid bolus NOT_APPLICABLE without shock, got %s", got)
	}
	if stats.Deviations != 0 {
		t.Errorf("expected no deviations yet, got %d", stats.Deviations)
	}

	// The only repeat value arrives an hour past the 6-hour window.
	f.src.AddLab(evidence.LabResult{Code: "lactate", Value: 6.0, EffectiveTime: at(7)})
	f.runAt(t, at(8))

	if got := ep.Result("sepsis_repeat_lactate").Status; got != episode.ResultNotMet {
		t.Fatalf("expected repeat lactate NOT_MET, got %s", got)
	}
	if f.ledger.countFor("sepsis_repeat_lactate") != 1 {
		t.Errorf("expected one repeat-lactate deviation, got %d", f.ledger.countFor("sepsis_repeat_lactate"))
	}

	for i := 0; i < 3; i++ {
		f.runAt(t, at(9+float64(i)))
	}
	if f.ledger.countFor("sepsis_repeat_lactate") != 1 {
		t.Errorf("re-evaluation re-emitted the deviation")
	}
	if ep.Status != episode.StatusActive {
		t.Errorf("expected episode still active awaiting reassessment note, got %s", ep.Status)
	}
}

func TestEvaluator_TerminalResultsAreImmutable(t *testing.T) {
	b := abxPlusReviewBundle()
	ep := buildEpisode(b, nil)
	f := newEvalFixture(bundle.NewCatalog(b), ep)

	f.runAt(t, at(1.5))
	if got := ep.Result("abx").Status; got != episode.ResultNotMet {
		t.Fatalf("expected NOT_MET, got %s", got)
	}

	// A backdated administration surfaces after the verdict.
	f.src.AddMedication(evidence.MedicationAdministration{Name: "Ceftriaxone", AdminTime: at(0.5)})
	f.runAt(t, at(2))

	if got := ep.Result("abx").Status; got != episode.ResultNotMet {
		t.Errorf("backdated evidence flipped a terminal result to %s", got)
	}
	if len(f.ledger.emitted) != 1 {
		t.Errorf("expected the single original deviation, got %d", len(f.ledger.emitted))
	}
}

func TestEvaluator_ReevaluationIsIdempotent(t *testing.T) {
	b := abxPlusReviewBundle()
	ep := buildEpisode(b, nil)
	f := newEvalFixture(bundle.NewCatalog(b), ep)
	f.src.AddMedication(evidence.MedicationAdministration{Name: "Ceftriaxone", AdminTime: at(0.25)})

	f.runAt(t, at(0.5))
	firstUpdates := f.results.updates
	snapshot := map[string]episode.ResultStatus{}
	for _, r := range ep.Results {
		snapshot[r.ElementID] = r.Status
	}

	f.runAt(t, at(0.5))

	if f.results.updates != firstUpdates {
		t.Errorf("identical re-evaluation wrote %d extra updates", f.results.updates-firstUpdates)
	}
	for _, r := range ep.Results {
		if snapshot[r.ElementID] != r.Status {
			t.Errorf("%s: status changed from %s to %s on identical re-run", r.ElementID, snapshot[r.ElementID], r.Status)
		}
	}
}

func TestEvaluator_UnknownDataSourceStaysPending(t *testing.T) {
	b := &bundle.GuidelineBundle{
		BundleID: "imaging_bundle",
		Name:     "Imaging",
		Elements: []bundle.BundleElement{{
			ElementID:       "cxr",
			Name:            "Chest radiograph",
			Required:        true,
			TimeWindowHours: wh(1),
			DataSource:      bundle.DataSource("imaging"),
		}},
	}
	ep := buildEpisode(b, nil)
	f := newEvalFixture(bundle.NewCatalog(b), ep)

	stats := f.runAt(t, at(2))

	r := ep.Result("cxr")
	if r.Status != episode.ResultPending {
		t.Fatalf("expected PENDING for unknown data source, got %s", r.Status)
	}
	if r.Notes == nil || *r.Notes != `no checker registered for data source "imaging"` {
		t.Errorf("unexpected note: %v", r.Notes)
	}
	if stats.Deviations != 0 || stats.StillActive != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestEvaluator_PanicIsContainedPerEpisode(t *testing.T) {
	broken := &bundle.GuidelineBundle{
		BundleID: "broken",
		Name:     "Broken bundle",
		Elements: []bundle.BundleElement{{
			ElementID:       "bad",
			Name:            "Misconfigured element",
			Required:        true,
			TimeWindowHours: wh(1),
			DataSource:      bundle.DataSourceLab,
			Condition:       &bundle.Condition{Name: "nil test"},
		}},
	}
	abx := antibioticsOnlyBundle()

	badEp := buildEpisode(broken, nil)
	goodEp := buildEpisode(abx, nil)
	f := newEvalFixture(bundle.NewCatalog(broken, abx), badEp, goodEp)
	f.src.AddMedication(evidence.MedicationAdministration{Name: "Ceftriaxone", AdminTime: at(0.5)})

	stats := f.runAt(t, at(1.5))

	if stats.Errors != 1 {
		t.Errorf("expected 1 contained error, got %d", stats.Errors)
	}
	if stats.Episodes != 2 || stats.Completed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if goodEp.Status != episode.StatusComplete {
		t.Errorf("healthy episode did not complete after a sibling panicked")
	}
}

func TestEvaluator_UnknownBundleCountedAsError(t *testing.T) {
	ep := buildEpisode(antibioticsOnlyBundle(), nil)
	ep.BundleID = "ghost"
	f := newEvalFixture(bundle.DefaultCatalog(), ep)

	stats := f.runAt(t, at(1))

	if stats.Errors != 1 {
		t.Errorf("expected 1 error for unknown bundle, got %d", stats.Errors)
	}
	if ep.Status != episode.StatusActive {
		t.Errorf("episode with unknown bundle should stay active, got %s", ep.Status)
	}
}

func TestEvaluator_ListFailureAbortsCycle(t *testing.T) {
	f := newEvalFixture(bundle.DefaultCatalog())
	f.store.listErr = errors.New("connection refused")

	if _, err := f.ev.RunCycle(context.Background()); err == nil {
		t.Error("expected cycle error when the active set cannot be listed")
	}
}

func TestEvaluator_ResultPersistFailureDoesNotAbort(t *testing.T) {
	b := antibioticsOnlyBundle()
	ep := buildEpisode(b, nil)
	f := newEvalFixture(bundle.NewCatalog(b), ep)
	f.results.err = errors.New("write failed")

	stats := f.runAt(t, at(1.5))

	if stats.Errors != 0 {
		t.Errorf("persist failure should not count as an episode error, got %d", stats.Errors)
	}
	if stats.Deviations != 1 {
		t.Errorf("expected the deviation despite the persist failure, got %d", stats.Deviations)
	}
	if stats.Completed != 1 {
		t.Errorf("expected episode completion despite the persist failure, got %+v", stats)
	}
}

func TestEvaluator_UnknownAgeKeepsAgeGatedElementsPending(t *testing.T) {
	ep := buildEpisode(bundle.FebrileInfantBundle(), nil)
	f := newEvalFixture(bundle.DefaultCatalog(), ep)

	// Every window has expired, but the age group is unresolved.
	stats := f.runAt(t, at(13))
	for _, r := range ep.Results {
		if r.Status != episode.ResultPending {
			t.Errorf("%s: expected PENDING with unknown age, got %s", r.ElementID, r.Status)
		}
	}
	if stats.Deviations != 0 {
		t.Errorf("expected no deviations with unknown age, got %d", stats.Deviations)
	}

	// Demographics arrive; the next cycle resolves the age gates.
	birth := testTrigger.AddDate(0, 0, -15)
	f.src.SetPatient(&evidence.Patient{ID: "pat-1", BirthDate: &birth})
	f.runAt(t, at(13.5))

	if got := ep.Result("fi_blood_culture").Status; got != episode.ResultNotMet {
		t.Errorf("expected blood culture NOT_MET once age resolved, got %s", got)
	}
	if got := ep.Result("fi_procalcitonin_29_60d").Status; got != episode.ResultNotApplicable {
		t.Errorf("expected 29-60 day element NOT_APPLICABLE for a 15-day infant, got %s", got)
	}
}

func TestEvaluator_ClosedEpisodeIsNotEvaluated(t *testing.T) {
	b := antibioticsOnlyBundle()
	ep := buildEpisode(b, nil)
	ep.Status = episode.StatusClosed
	f := newEvalFixture(bundle.NewCatalog(b), ep)

	stats := f.runAt(t, at(2))

	if stats.Episodes != 0 {
		t.Errorf("closed episode was evaluated: %+v", stats)
	}
	if got := ep.Result("abx").Status; got != episode.ResultPending {
		t.Errorf("closed episode result mutated to %s", got)
	}
}
