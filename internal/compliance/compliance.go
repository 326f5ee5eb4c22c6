// Package compliance implements C9, the Court-Defensibility Assessor:
// scores evidence and cases against jurisdictional admissibility criteria
// and produces a list of anticipated challenges (spec §4.6).
package compliance

import (
	"fmt"
	"sort"
	"time"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/google/uuid"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// Requirement is one admissibility criterion in the requirements registry,
// keyed by (jurisdiction, court type, legal standard) and ordered by
// precedence (spec §4.6, SPEC_FULL §12 "legal-requirement precedence
// ordering").
type Requirement struct {
	ID            string
	Jurisdiction  string
	CourtType     string
	LegalStandard string
	Precedence    int // higher evaluates and reports first
	Description   string
	Path          string // jsonpath expression into the evidence profile
	Condition     string // gval boolean expression over the extracted `value`
	ChallengeKind string // hearsay | authentication | relevance
	BaseSeverity  string // low | medium | high, used when the requirement is unmet
}

// Registry holds the requirements consulted during an assessment. A fixed
// in-process set covers the jurisdictions this deployment supports; a
// future iteration could source this from the relational store.
type Registry struct {
	requirements []Requirement
}

// NewRegistry builds a registry from a caller-supplied requirement set.
func NewRegistry(requirements []Requirement) *Registry {
	return &Registry{requirements: requirements}
}

// DefaultRegistry is a representative baseline covering US federal criminal
// proceedings under the Federal Rules of Evidence.
func DefaultRegistry() *Registry {
	return NewRegistry([]Requirement{
		{
			ID: "us-fre-authentication", Jurisdiction: "US", CourtType: "criminal", LegalStandard: "FRE",
			Precedence: 40, Description: "evidence integrity must be independently verifiable",
			Path: "$.integrity", Condition: `value == "verified"`,
			ChallengeKind: "authentication", BaseSeverity: "high",
		},
		{
			ID: "us-fre-chain-of-custody", Jurisdiction: "US", CourtType: "criminal", LegalStandard: "FRE",
			Precedence: 35, Description: "chain of custody must be unbroken from collection to presentation",
			Path: "$.custody_chain_complete", Condition: "value == true",
			ChallengeKind: "authentication", BaseSeverity: "high",
		},
		{
			ID: "us-fre-hearsay", Jurisdiction: "US", CourtType: "criminal", LegalStandard: "FRE",
			Precedence: 30, Description: "machine-generated records must qualify for a hearsay exception",
			Path: "$.hearsay_exception_applies", Condition: "value == true",
			ChallengeKind: "hearsay", BaseSeverity: "medium",
		},
		{
			ID: "us-fre-relevance", Jurisdiction: "US", CourtType: "criminal", LegalStandard: "FRE",
			Precedence: 20, Description: "evidence must be probative of a fact at issue",
			Path: "$.relevance_score", Condition: "value >= 0.5",
			ChallengeKind: "relevance", BaseSeverity: "low",
		},
		{
			ID: "us-fre-reliability", Jurisdiction: "US", CourtType: "criminal", LegalStandard: "FRE",
			Precedence: 20, Description: "the methodology producing the evidence must be reliable",
			Path: "$.reliability_score", Condition: "value >= 0.5",
			ChallengeKind: "authentication", BaseSeverity: "medium",
		},
	})
}

// Filter returns requirements matching the triple, ordered by descending
// precedence.
func (r *Registry) Filter(jurisdiction, courtType, legalStandard string) []Requirement {
	var matched []Requirement
	for _, req := range r.requirements {
		if req.Jurisdiction == jurisdiction && req.CourtType == courtType && req.LegalStandard == legalStandard {
			matched = append(matched, req)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Precedence > matched[j].Precedence })
	return matched
}

// EvidenceProfile is the set of facts the assessor evaluates requirements
// against. Built by the caller from an EvidenceItem/ForensicCase pair.
type EvidenceProfile struct {
	Integrity                domain.IntegrityStatus
	CustodyChainComplete     bool
	HearsayExceptionApplies  bool
	RelevanceScore           float64
	ReliabilityScore         float64
}

func (p EvidenceProfile) toJSON() map[string]interface{} {
	return map[string]interface{}{
		"integrity":                 string(p.Integrity),
		"custody_chain_complete":    p.CustodyChainComplete,
		"hearsay_exception_applies": p.HearsayExceptionApplies,
		"relevance_score":           p.RelevanceScore,
		"reliability_score":         p.ReliabilityScore,
	}
}

// Assessor is C9's public contract.
type Assessor struct {
	registry *Registry
}

func New(registry *Registry) *Assessor {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Assessor{registry: registry}
}

// Assess scores a case/evidence pair against the (jurisdiction, court type,
// legal standard) triple and returns a ComplianceRecord (spec §4.6).
// Evidence whose integrity is tampered or corrupted is always inadmissible,
// whatever its score.
func (a *Assessor) Assess(caseID, evidenceID, jurisdiction, courtType, legalStandard string, profile EvidenceProfile) (domain.ComplianceRecord, error) {
	requirements := a.registry.Filter(jurisdiction, courtType, legalStandard)
	profileJSON := profile.toJSON()

	var met, gap []string
	var challenges []domain.Challenge
	for _, req := range requirements {
		ok, err := evaluateRequirement(req, profileJSON)
		if err != nil {
			return domain.ComplianceRecord{}, fmt.Errorf("evaluate requirement %s: %w", req.ID, err)
		}
		if ok {
			met = append(met, req.ID)
			continue
		}
		gap = append(gap, req.ID)
		challenges = append(challenges, domain.Challenge{
			Kind:       req.ChallengeKind,
			Severity:   req.BaseSeverity,
			Likelihood: likelihoodForUnmet(req, len(requirements)),
		})
	}

	fulfilment := 1.0
	if len(requirements) > 0 {
		fulfilment = float64(len(met)) / float64(len(requirements))
	}
	score := 70*fulfilment*100/100 + 15*profile.RelevanceScore + 15*profile.ReliabilityScore
	verdict := verdictForScore(score)
	if profile.Integrity == domain.IntegrityTampered || profile.Integrity == domain.IntegrityCorrupted {
		verdict = domain.VerdictInadmissible
	}

	return domain.ComplianceRecord{
		ID: uuid.NewString(), CaseID: caseID, EvidenceID: evidenceID,
		Jurisdiction: jurisdiction, CourtType: courtType, LegalStandard: legalStandard,
		RequirementsMet: met, RequirementsGap: gap,
		RelevanceScore: profile.RelevanceScore, ReliabilityScore: profile.ReliabilityScore,
		ComplianceScore: score, Verdict: verdict, Challenges: challenges,
		AssessedAt: time.Now().UTC(),
	}, nil
}

func evaluateRequirement(req Requirement, profileJSON map[string]interface{}) (bool, error) {
	value, err := jsonpath.Get(req.Path, profileJSON)
	if err != nil {
		// an absent fact is treated as an unmet requirement, not an error
		value = nil
	}
	result, err := gval.Evaluate(req.Condition, map[string]interface{}{"value": value})
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", req.Condition, err)
	}
	ok, _ := result.(bool)
	return ok, nil
}

// likelihoodForUnmet starts from a severity-based base likelihood and adds
// up to 0.3 in proportion to the requirement's precedence (precedence/100,
// capped at 1): higher-precedence gaps carry a higher likelihood of being
// raised by opposing counsel.
func likelihoodForUnmet(req Requirement, totalRequirements int) float64 {
	if totalRequirements == 0 {
		return 0
	}
	base := 0.3
	switch req.BaseSeverity {
	case "high":
		base = 0.6
	case "medium":
		base = 0.45
	}
	scale := float64(req.Precedence) / 100
	if scale > 1 {
		scale = 1
	}
	likelihood := base + 0.3*scale
	if likelihood > 1 {
		likelihood = 1
	}
	return likelihood
}

func verdictForScore(score float64) domain.AdmissibilityVerdict {
	switch {
	case score >= 90:
		return domain.VerdictAdmissible
	case score >= 70:
		return domain.VerdictConditional
	case score >= 50:
		return domain.VerdictUnderReview
	default:
		return domain.VerdictInadmissible
	}
}

// ExpertQualification is an expert witness profile an assessment may
// reference (SPEC_FULL §12 "expert witness qualification records").
type ExpertQualification struct {
	EducationYears        int
	ExperienceYears       int
	PublicationCount      int
	TestimonyCount        int
	CertificationCount    int
}

// ExpertScore computes a court-validated-expert score from weighted
// sub-scores, clamped to 100 (education ≤20, experience ≤30, publications
// ≤20, testimony ≤20, certifications ≤10).
func (q ExpertQualification) ExpertScore() float64 {
	education := clampSub(float64(q.EducationYears)*4, 20)
	experience := clampSub(float64(q.ExperienceYears)*3, 30)
	publications := clampSub(float64(q.PublicationCount)*2, 20)
	testimony := clampSub(float64(q.TestimonyCount)*4, 20)
	certifications := clampSub(float64(q.CertificationCount)*5, 10)

	total := education + experience + publications + testimony + certifications
	if total > 100 {
		total = 100
	}
	return total
}

func clampSub(value, max float64) float64 {
	if value > max {
		return max
	}
	if value < 0 {
		return 0
	}
	return value
}

// PresentationGuidance is human-readable exhibit and testimony preparation
// notes keyed off which requirements are unmet (SPEC_FULL §12).
type PresentationGuidance struct {
	ExhibitNotes  []string
	TestimonyNotes []string
}

// BuildGuidance derives guidance text from a ComplianceRecord's gaps, most
// important gap first (requirements are already precedence-ordered within
// RequirementsGap by Assess).
func BuildGuidance(record domain.ComplianceRecord) PresentationGuidance {
	var guidance PresentationGuidance
	for _, challenge := range record.Challenges {
		switch challenge.Kind {
		case "authentication":
			guidance.ExhibitNotes = append(guidance.ExhibitNotes,
				"lay foundation for authenticity with a custodian-of-records or digital-forensics witness")
		case "hearsay":
			guidance.TestimonyNotes = append(guidance.TestimonyNotes,
				"prepare to argue the business-records or machine-generated-evidence exception")
		case "relevance":
			guidance.ExhibitNotes = append(guidance.ExhibitNotes,
				"tie the exhibit explicitly to an element of the claim or charge before offering it")
		}
	}
	return guidance
}
