package bundle

import (
	"errors"
	"testing"
)

func TestDefaultCatalog_SeededBundles(t *testing.T) {
	c := DefaultCatalog()

	bundles := c.List()
	if len(bundles) != 2 {
		t.Fatalf("expected 2 seeded bundles, got %d", len(bundles))
	}
	if bundles[0].BundleID != "febrile_infant" {
		t.Errorf("expected febrile_infant first, got %s", bundles[0].BundleID)
	}
	if bundles[1].BundleID != "pediatric_sepsis" {
		t.Errorf("expected pediatric_sepsis second, got %s", bundles[1].BundleID)
	}
}

func TestCatalog_Get(t *testing.T) {
	c := DefaultCatalog()

	b, err := c.Get("pediatric_sepsis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Elements) != 6 {
		t.Errorf("expected 6 sepsis elements, got %d", len(b.Elements))
	}

	_, err = c.Get("no_such_bundle")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_DuplicateIDsIgnored(t *testing.T) {
	a := &GuidelineBundle{BundleID: "b1", Name: "first"}
	dup := &GuidelineBundle{BundleID: "b1", Name: "second"}

	c := NewCatalog(a, dup)
	got, err := c.Get("b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "first" {
		t.Errorf("expected first registration to win, got %q", got.Name)
	}
	if len(c.List()) != 1 {
		t.Errorf("expected 1 bundle, got %d", len(c.List()))
	}
}

func TestFebrileInfantBundle_ElementConfig(t *testing.T) {
	b := FebrileInfantBundle()

	if len(b.Elements) != 13 {
		t.Fatalf("expected 13 elements, got %d", len(b.Elements))
	}

	lp, ok := b.Element("fi_lp_8_21d")
	if !ok {
		t.Fatal("fi_lp_8_21d missing")
	}
	if lp.TimeWindowHours == nil || *lp.TimeWindowHours != 4 {
		t.Errorf("fi_lp_8_21d window = %v, want 4h", lp.TimeWindowHours)
	}
	if len(lp.AgeGroups) != 1 || lp.AgeGroups[0] != AgeGroup8To21 {
		t.Errorf("fi_lp_8_21d age groups = %v", lp.AgeGroups)
	}
	if lp.Condition != nil {
		t.Error("fi_lp_8_21d must be unconditional within its age group")
	}

	lp2228, _ := b.Element("fi_lp_22_28d_im_abnormal")
	if lp2228.Condition == nil || lp2228.Condition.RequiresElement != "fi_inflammatory_markers" {
		t.Error("fi_lp_22_28d_im_abnormal must be gated on the inflammatory markers element")
	}
	if lp2228.TimeWindowHours == nil || *lp2228.TimeWindowHours != 6 {
		t.Errorf("fi_lp_22_28d_im_abnormal window = %v, want 6h", lp2228.TimeWindowHours)
	}

	checklist, _ := b.Element("fi_discharge_checklist_home")
	if checklist.TimeWindowHours != nil {
		t.Error("discharge checklist must be unbounded")
	}
	if checklist.Condition == nil || checklist.Condition.Undecided == nil {
		t.Error("discharge checklist condition must defer until disposition is documented")
	}

	// No element may apply to the 0-7 day group: that age is outside the
	// guideline entirely.
	for _, el := range b.Elements {
		for _, g := range el.AgeGroups {
			if g == AgeGroup0To7 {
				t.Errorf("element %s lists the excluded 0-7 day group", el.ElementID)
			}
		}
		if len(el.AgeGroups) == 0 {
			t.Errorf("element %s has no age gating; febrile infant elements must exclude 0-7 days", el.ElementID)
		}
	}
}

func TestPediatricSepsisBundle_ElementConfig(t *testing.T) {
	b := PediatricSepsisBundle()

	repeat, ok := b.Element("sepsis_repeat_lactate")
	if !ok {
		t.Fatal("sepsis_repeat_lactate missing")
	}
	if repeat.DependsOn == nil {
		t.Fatal("repeat lactate must depend on the initial lactate")
	}
	if repeat.DependsOn.ElementID != "sepsis_lactate" || repeat.DependsOn.Threshold != 2.0 {
		t.Errorf("repeat lactate edge = %+v", repeat.DependsOn)
	}

	note, _ := b.Element("sepsis_reassessment_note")
	if note.NoteOpenHours == nil || *note.NoteOpenHours != 48 {
		t.Errorf("reassessment note open = %v, want 48h", note.NoteOpenHours)
	}
	if note.TimeWindowHours == nil || *note.TimeWindowHours != 72 {
		t.Errorf("reassessment note window = %v, want 72h", note.TimeWindowHours)
	}

	bolus, _ := b.Element("sepsis_fluid_bolus")
	if bolus.MedicationCategory != MedCategoryFluidBolus {
		t.Errorf("fluid bolus category = %q", bolus.MedicationCategory)
	}

	// Prerequisites must precede their dependents in display order.
	idx := map[string]int{}
	for i, el := range b.Elements {
		idx[el.ElementID] = i
	}
	if idx["sepsis_repeat_lactate"] < idx["sepsis_lactate"] {
		t.Error("repeat lactate listed before its prerequisite")
	}
}
