package conflict

// Authority names the party with final say over a directive category.
type Authority string

const (
	AuthorityHuman Authority = "human"
	AuthorityPeer  Authority = "peer"
	AuthorityNone  Authority = "" // debatable
)

// authorityTable is the static precedence table consulted before any debate
// starts. Categories listed here are never debated: the conflict is routed
// straight to the declared authority.
var authorityTable = map[string]Authority{
	"budget_over_threshold": AuthorityHuman,
	"security_incident":     AuthorityHuman,
	"compliance":            AuthorityHuman,
	"infra_maintenance":     AuthorityPeer,
}

// DeclaredAuthority returns the party with standing authority over the
// category found in either directive's payload, or AuthorityNone when the
// conflict is open to debate.
func (r *Record) DeclaredAuthority() Authority {
	if a := authorityTable[r.DirectiveA.Payload["category"]]; a != AuthorityNone {
		return a
	}
	return authorityTable[r.DirectiveB.Payload["category"]]
}
