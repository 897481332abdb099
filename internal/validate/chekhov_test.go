package validate

import (
	"context"
	"testing"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

func TestTrackChekhovGunsAddsAndResolves(t *testing.T) {
	mock := &llm.MockClient{Default: `{
		"new_guns": [
			{"element": "the locked chest", "element_type": "object", "expectation": "will be opened", "urgency": 20},
			{"element": "", "element_type": "object"}
		],
		"resolutions": [{"element": "silver key", "how": "used on the cellar door"}]
	}`}
	v := NewValidator(mock, "test-model", nil, nil)

	project := &types.Project{
		ChekhovGuns: []types.ChekhovGun{
			{Element: "the silver key", ElementType: types.GunObject, IntroducedChapter: 2, Urgency: 8},
		},
	}

	report, err := v.TrackChekhovGuns(context.Background(), project, "chapter text", 5)
	if err != nil {
		t.Fatalf("TrackChekhovGuns() error = %v", err)
	}

	if len(report.NewGuns) != 1 {
		t.Fatalf("expected 1 new gun (blank skipped), got %d", len(report.NewGuns))
	}
	if report.NewGuns[0].Urgency != 10 {
		t.Errorf("urgency not clamped: %d", report.NewGuns[0].Urgency)
	}
	if report.NewGuns[0].IntroducedChapter != 5 {
		t.Errorf("introduced chapter = %d, want 5", report.NewGuns[0].IntroducedChapter)
	}

	// "silver key" overlaps "the silver key" on 2/2 words.
	if len(report.Resolved) != 1 {
		t.Fatalf("expected 1 resolution, got %v", report.Resolved)
	}
	key := project.ChekhovGuns[0]
	if !key.Resolved || key.ResolvedChapter != 5 {
		t.Errorf("gun not marked resolved: %+v", key)
	}
	if len(key.HintsDropped) != 1 {
		t.Errorf("resolution note not recorded: %+v", key.HintsDropped)
	}
}

func TestTrackChekhovGunsDedupsByOverlap(t *testing.T) {
	mock := &llm.MockClient{Default: `{
		"new_guns": [{"element": "the silver key", "element_type": "object", "urgency": 5}],
		"resolutions": []
	}`}
	v := NewValidator(mock, "test-model", nil, nil)

	project := &types.Project{
		ChekhovGuns: []types.ChekhovGun{
			{Element: "silver key", ElementType: types.GunObject, IntroducedChapter: 2, Urgency: 6},
		},
	}

	report, err := v.TrackChekhovGuns(context.Background(), project, "text", 4)
	if err != nil {
		t.Fatalf("TrackChekhovGuns() error = %v", err)
	}
	if len(report.NewGuns) != 0 {
		t.Errorf("near-duplicate gun re-added: %+v", report.NewGuns)
	}
	if len(project.ChekhovGuns) != 1 {
		t.Errorf("project guns = %d, want 1", len(project.ChekhovGuns))
	}
}

func TestTrackChekhovGunsAlertsOnStaleUrgentGuns(t *testing.T) {
	mock := &llm.MockClient{Default: `{"new_guns": [], "resolutions": []}`}
	v := NewValidator(mock, "test-model", nil, nil)

	project := &types.Project{
		ChekhovGuns: []types.ChekhovGun{
			{Element: "the prophecy", Urgency: 9, IntroducedChapter: 1},  // stale, urgent
			{Element: "a stray cat", Urgency: 2, IntroducedChapter: 1},   // stale, not urgent
			{Element: "the duel", Urgency: 10, IntroducedChapter: 15},    // urgent, fresh
			{Element: "the debt", Urgency: 9, IntroducedChapter: 1, Resolved: true},
		},
	}

	report, err := v.TrackChekhovGuns(context.Background(), project, "text", 20)
	if err != nil {
		t.Fatalf("TrackChekhovGuns() error = %v", err)
	}
	if len(report.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d: %+v", len(report.Alerts), report.Alerts)
	}
	if report.Alerts[0].Gun.Element != "the prophecy" {
		t.Errorf("wrong gun alerted: %s", report.Alerts[0].Gun.Element)
	}
}

func TestWordOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"silver key", "the silver key", 1.0},
		{"the silver key", "silver key", 2.0 / 3.0},
		{"sword", "shield", 0},
		{"", "anything", 0},
	}
	for _, tt := range tests {
		if got := wordOverlap(tt.a, tt.b); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("wordOverlap(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNormalizeGunType(t *testing.T) {
	if got := normalizeGunType(" Threat "); got != types.GunThreat {
		t.Errorf("normalizeGunType(Threat) = %q", got)
	}
	if got := normalizeGunType("gadget"); got != types.GunObject {
		t.Errorf("unknown type should default to object, got %q", got)
	}
}
