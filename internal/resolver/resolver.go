// Package resolver decides, per candidate, whether it belongs to the run's
// resolution set. Each mode's rule lives in one place; the decision is a pure
// function of the mode, the candidate, and the declared patterns.
package resolver

import (
	"github.com/vk/elfmagic/internal/catalog"
	"github.com/vk/elfmagic/internal/config"
	"github.com/vk/elfmagic/internal/pattern"
)

// Decision is the resolver's immutable verdict for one candidate.
type Decision struct {
	Candidate catalog.Candidate
	Included  bool
	// MatchedPattern is the first pattern in declared order that determined
	// the outcome, when one did. Global patterns are evaluated before local
	// ones; order affects only the reporting, not the boolean outcome.
	MatchedPattern *pattern.Pattern
	Reason         string
}

// Decide evaluates one candidate under the given mode. For permissive mode
// globalDeny and local are the merged deny lists; for laser-eyes local is the
// workspace's only list and globalDeny must be empty.
func Decide(mode config.Mode, c catalog.Candidate, globalDeny, local []pattern.Pattern) Decision {
	subject := pattern.Subject{
		TargetName:   c.TargetName,
		PackageName:  c.PackageName,
		ManifestPath: c.ManifestPath,
	}

	switch mode {
	case config.ModePermissive:
		if m := pattern.FirstMatch(globalDeny, subject); m != nil {
			return Decision{Candidate: c, MatchedPattern: m, Reason: "denied by pattern " + m.Source}
		}
		if m := pattern.FirstMatch(local, subject); m != nil {
			return Decision{Candidate: c, MatchedPattern: m, Reason: "denied by pattern " + m.Source}
		}
		return Decision{Candidate: c, Included: true, Reason: "not denied by any pattern"}

	case config.ModeLaserEyes:
		if len(local) == 0 {
			return Decision{Candidate: c, Reason: "empty only list"}
		}
		if m := pattern.FirstMatch(local, subject); m != nil {
			return Decision{Candidate: c, Included: true, MatchedPattern: m, Reason: "matched only pattern " + m.Source}
		}
		return Decision{Candidate: c, Reason: "no only pattern matched"}

	default: // magic
		return Decision{Candidate: c, Included: true, Reason: "default inclusion"}
	}
}

// DecideAll resolves a workspace's candidates in discovery order.
func DecideAll(mode config.Mode, candidates []catalog.Candidate, globalDeny, local []pattern.Pattern) []Decision {
	decisions := make([]Decision, 0, len(candidates))
	for _, c := range candidates {
		decisions = append(decisions, Decide(mode, c, globalDeny, local))
	}
	return decisions
}
