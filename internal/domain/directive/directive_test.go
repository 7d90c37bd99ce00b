package directive

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		d       Directive
		wantErr bool
	}{
		{"valid", Directive{ID: "d1", Type: TypeReviewRequest, Origin: OriginHuman}, false},
		{"missing id", Directive{Type: TypeReviewRequest, Origin: OriginHuman}, true},
		{"unknown type", Directive{ID: "d1", Type: "launch_missiles", Origin: OriginHuman}, true},
		{"unknown origin", Directive{ID: "d1", Type: TypeReviewRequest, Origin: "mystery"}, true},
		{"worker origin", Directive{ID: "d1", Type: TypeStatusUpdate, Origin: OriginWorker}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestIncompatible(t *testing.T) {
	mk := func(typ Type, resource string) *Directive {
		return &Directive{ID: "d", Type: typ, TargetResource: resource}
	}

	if Incompatible(mk(TypeReviewRequest, "repo/a"), mk(TypeReviewRequest, "repo/b")) {
		t.Fatal("different resources must never be incompatible")
	}
	if Incompatible(mk(TypeReviewRequest, ""), mk(TypeReviewRequest, "")) {
		t.Fatal("empty resource must never collide")
	}
	if Incompatible(mk(TypeReportRequest, "svc/x"), mk(TypeStatusUpdate, "svc/x")) {
		t.Fatal("two read-only directives are always compatible")
	}
	if !Incompatible(mk(TypeReviewRequest, "svc/x"), mk(TypeReportRequest, "svc/x")) {
		t.Fatal("a mutating directive collides with anything on its resource")
	}
	if !Incompatible(mk(TypeReviewRequest, "svc/x"), mk(TypeDecisionRequest, "svc/x")) {
		t.Fatal("two mutating directives on one resource must collide")
	}
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		name string
		d    Directive
		want RiskLevel
	}{
		{"escalation is always high", Directive{Type: TypeEscalation}, RiskHigh},
		{"deploy action", Directive{Type: TypeReviewRequest, Payload: map[string]string{"action": "deploy"}}, RiskHigh},
		{"payment action", Directive{Type: TypeDecisionRequest, Payload: map[string]string{"action": "payment"}}, RiskHigh},
		{"declared high risk", Directive{Type: TypeReviewRequest, Payload: map[string]string{"risk": "high"}}, RiskHigh},
		{"read-only is low", Directive{Type: TypeReportRequest}, RiskLow},
		{"status update is low", Directive{Type: TypeStatusUpdate}, RiskLow},
		{"plain review is normal", Directive{Type: TypeReviewRequest}, RiskNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRisk(&tc.d); got != tc.want {
				t.Fatalf("ClassifyRisk() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPriorityRoundTrip(t *testing.T) {
	d := Directive{ID: "d1", Type: TypeReviewRequest, Origin: OriginHuman, Priority: PriorityUrgent, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Directive
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Priority != PriorityUrgent {
		t.Fatalf("priority did not survive the wire: %s", back.Priority)
	}
}

func TestParsePriorityDefaultsToNormal(t *testing.T) {
	if p := ParsePriority("asap"); p != PriorityNormal {
		t.Fatalf("unknown priority parsed to %s", p)
	}
	if p := ParsePriority("urgent"); p != PriorityUrgent {
		t.Fatalf("urgent parsed to %s", p)
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityLow < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityUrgent) {
		t.Fatal("priority ordering broken")
	}
}
