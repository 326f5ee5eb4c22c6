package compliance

import (
	"testing"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

func fullyCompliantProfile() EvidenceProfile {
	return EvidenceProfile{
		Integrity: domain.IntegrityVerified, CustodyChainComplete: true,
		HearsayExceptionApplies: true, RelevanceScore: 0.9, ReliabilityScore: 0.9,
	}
}

func TestAssess_FullyCompliantIsAdmissible(t *testing.T) {
	a := New(nil)
	record, err := a.Assess("case-1", "ev-1", "US", "criminal", "FRE", fullyCompliantProfile())
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if record.Verdict != domain.VerdictAdmissible {
		t.Errorf("Verdict = %s, want admissible (score=%v)", record.Verdict, record.ComplianceScore)
	}
	if len(record.RequirementsGap) != 0 {
		t.Errorf("RequirementsGap = %v, want none", record.RequirementsGap)
	}
}

func TestAssess_TamperedEvidenceIsInadmissible(t *testing.T) {
	a := New(nil)
	profile := fullyCompliantProfile()
	profile.Integrity = domain.IntegrityTampered
	profile.CustodyChainComplete = false

	record, err := a.Assess("case-1", "ev-1", "US", "criminal", "FRE", profile)
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if record.Verdict != domain.VerdictInadmissible {
		t.Errorf("Verdict = %s, want inadmissible (score=%v)", record.Verdict, record.ComplianceScore)
	}

	foundAuth := false
	for _, c := range record.Challenges {
		if c.Kind == "authentication" && c.Likelihood >= 0.5 {
			foundAuth = true
		}
	}
	if !foundAuth {
		t.Errorf("Challenges = %+v, want an authentication challenge with likelihood >= 0.5", record.Challenges)
	}
}

func TestAssess_UnknownTripleHasNoRequirements(t *testing.T) {
	a := New(nil)
	record, err := a.Assess("case-1", "ev-1", "FR", "civil", "CPC", fullyCompliantProfile())
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if record.Verdict != domain.VerdictAdmissible {
		t.Errorf("Verdict = %s, want admissible when no requirements apply", record.Verdict)
	}
}

func TestRegistry_FilterOrdersByPrecedenceDescending(t *testing.T) {
	requirements := DefaultRegistry().Filter("US", "criminal", "FRE")
	for i := 1; i < len(requirements); i++ {
		if requirements[i].Precedence > requirements[i-1].Precedence {
			t.Fatalf("requirements not ordered by descending precedence: %+v", requirements)
		}
	}
}

func TestExpertScore_ClampedTo100(t *testing.T) {
	q := ExpertQualification{EducationYears: 20, ExperienceYears: 30, PublicationCount: 50, TestimonyCount: 30, CertificationCount: 10}
	if got := q.ExpertScore(); got != 100 {
		t.Errorf("ExpertScore() = %v, want 100", got)
	}
}

func TestExpertScore_WeightsSubScores(t *testing.T) {
	q := ExpertQualification{EducationYears: 1}
	if got := q.ExpertScore(); got != 4 {
		t.Errorf("ExpertScore() = %v, want 4", got)
	}
}

func TestBuildGuidance_AuthenticationChallengeProducesExhibitNote(t *testing.T) {
	record := domain.ComplianceRecord{Challenges: []domain.Challenge{{Kind: "authentication", Severity: "high", Likelihood: 0.6}}}
	guidance := BuildGuidance(record)
	if len(guidance.ExhibitNotes) != 1 {
		t.Errorf("ExhibitNotes = %v, want one note", guidance.ExhibitNotes)
	}
}
