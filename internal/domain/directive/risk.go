package directive

// RiskLevel classifies how dangerous the action behind a directive is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskNormal RiskLevel = "normal"
	RiskHigh   RiskLevel = "high"
)

// highRiskActions are payload "action" attributes that always gate behind
// human approval, regardless of directive type.
var highRiskActions = map[string]bool{
	"deploy":              true,
	"production_deploy":   true,
	"external_comms":      true,
	"payment":             true,
	"architecture_change": true,
	"merge":               true,
}

// ClassifyRisk returns the risk level for a directive from the static
// type + payload table. Escalations are always high (they exist to reach a
// human). Read-only types are low. Everything else is normal unless the
// payload declares a high-risk action.
func ClassifyRisk(d *Directive) RiskLevel {
	if d.Type == TypeEscalation {
		return RiskHigh
	}
	if action := d.Payload["action"]; highRiskActions[action] {
		return RiskHigh
	}
	if d.Payload["risk"] == "high" {
		return RiskHigh
	}
	if d.Type.ReadOnly() {
		return RiskLow
	}
	return RiskNormal
}
