package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

// noteChecker resolves documentation elements by keyword-scanning notes.
// An element's note window opens at the trigger unless NoteOpenHours
// pushes it later; notes dated before the opening never qualify even when
// the outer deadline is still far off.
type noteChecker struct {
	source evidence.Source
	logger zerolog.Logger
}

func (c *noteChecker) Check(ctx context.Context, in CheckInput) CheckOutcome {
	opensAt := in.Episode.TriggerTime
	if in.Element.NoteOpenHours != nil {
		opensAt = opensAt.Add(time.Duration(*in.Element.NoteOpenHours * float64(time.Hour)))
	}

	notes, err := c.source.RecentNotes(ctx, in.Episode.PatientID, opensAt, in.Element.NoteTypes)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("patient_id", in.Episode.PatientID).
			Str("element_id", in.Element.ElementID).
			Msg("note query failed")
		notes = nil
	}

	if n, keyword, ok := firstMatchingNote(notes, in.Element.Keywords, opensAt, in.Deadline); ok {
		return noteMet(n, keyword)
	}
	if deadlinePassed(in) {
		return notMetOutcome("no qualifying documentation before the deadline")
	}
	return pendingOutcome()
}

// firstMatchingNote returns the earliest note inside [opensAt, deadline]
// containing any keyword, along with the keyword that matched.
func firstMatchingNote(notes []evidence.Note, keywords []string, opensAt time.Time, deadline *time.Time) (evidence.Note, string, bool) {
	var best evidence.Note
	var matched string
	found := false
	for _, n := range notes {
		if n.Date.Before(opensAt) || !onTime(n.Date, deadline) {
			continue
		}
		keyword, ok := matchKeyword(n.Text, keywords)
		if !ok {
			continue
		}
		if !found || n.Date.Before(best.Date) {
			best = n
			matched = keyword
			found = true
		}
	}
	return best, matched, found
}

func matchKeyword(text string, keywords []string) (string, bool) {
	t := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(t, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}

func noteMet(n evidence.Note, keyword string) CheckOutcome {
	ts := n.Date
	kw := keyword
	noteType := n.Type
	if noteType == "" {
		noteType = "note"
	}
	return CheckOutcome{
		Status:      episode.ResultMet,
		CompletedAt: &ts,
		ValueText:   &kw,
		Note:        fmt.Sprintf("matched %q in %s", keyword, noteType),
	}
}
