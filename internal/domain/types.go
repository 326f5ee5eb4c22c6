// Package domain holds the shared entity types of the analytical core: the
// vocabulary every component (ledger clients, collector pool, risk engine,
// pattern detector, attribution engine, evidence vault, case store,
// compliance assessor, alert engine, webhook dispatcher, scheduler) passes
// between each other. Types here are storage-engine-agnostic; persistence
// concerns live in each component's own store.
package domain

import "time"

// Chain identifies a ledger a component adapts to.
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
	ChainNeo      Chain = "neo"
)

// EntityType classifies a clustered real-world actor.
type EntityType string

const (
	EntityExchange       EntityType = "exchange"
	EntityMixer          EntityType = "mixer"
	EntityDarknetMarket  EntityType = "darknet-market"
	EntitySanctioned     EntityType = "sanctioned"
	EntityIndividual     EntityType = "individual"
	EntityUnknown        EntityType = "unknown"
	EntityService        EntityType = "known-service"
	EntityLawEnforcement EntityType = "law-enforcement"
)

// Address is a (chain, address_string) keyed ledger participant with
// aggregate activity counters and a cached risk/label view.
//
// Invariant: FirstSeen <= LastSeen; counters are monotonically
// non-decreasing (enforced by the component that mutates them, not by this
// type itself).
type Address struct {
	Chain       Chain
	Address     string
	FirstSeen   time.Time
	LastSeen    time.Time
	InCount     int64
	OutCount    int64
	InVolume    map[string]float64 // asset -> cumulative inbound volume
	OutVolume   map[string]float64
	RiskScore   float64 // 0.0-1.0
	Labels      []string
	EntityID    string // empty if unattributed
}

// TxStatus is a Transaction's confirmation state.
type TxStatus string

const (
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusOrphaned  TxStatus = "orphaned"
	TxStatusPending   TxStatus = "pending"
)

// TxIO is one side of a transaction's value flow.
type TxIO struct {
	Address string
	Asset   string
	Amount  float64
}

// Transaction is a (chain, tx_hash) keyed ledger event.
//
// Invariant (UTXO-style): sum(Inputs) == sum(Outputs) + Fee.
// Invariant (account-style): the source's balance delta == -(value + fee);
// represented here with a single synthetic input/output pair.
// Transactions are immutable once Status == TxStatusConfirmed; a reorg
// reassigns BlockHeight and may flip Status to TxStatusOrphaned.
type Transaction struct {
	Chain       Chain
	TxHash      string
	BlockHeight uint64
	BlockHash   string
	Timestamp   time.Time
	Inputs      []TxIO
	Outputs     []TxIO
	Fee         float64
	Status      TxStatus
}

// Entity is a cluster of addresses attributed to one real-world actor.
// Addresses belong to at most one Entity at a time; merges are append-only
// (see attribution.LinkLog) and reversible only via an explicit Split record.
type Entity struct {
	ID         string
	Name       string // optional canonical name
	Type       EntityType
	Confidence float64
	Evidence   []string // heuristic identifiers that produced the clustering
	Addresses  []string // "chain:address" composite keys
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LabelTarget identifies what a Label is attached to.
type LabelTarget struct {
	Kind string // "address" | "entity"
	ID   string
}

// Label is a typed tag sourced from an external feed (sanctions list, known
// service registry, threat feed).
type Label struct {
	ID         string
	Target     LabelTarget
	Kind       string // e.g. "sanctions", "exchange", "darknet-market"
	Source     string
	FetchedAt  time.Time
	Provenance string // hash committing to the source record
}

// PatternKind enumerates the behavioural structures the detector recognizes.
type PatternKind string

const (
	PatternPeelingChain    PatternKind = "peeling_chain"
	PatternMixerInteraction PatternKind = "mixer_interaction"
	PatternRapidMovement   PatternKind = "rapid_movement"
	PatternLayering        PatternKind = "layering"
	PatternBridgeHop       PatternKind = "bridge_hop"
	PatternSanctionsTouch  PatternKind = "sanctions_touch"
)

// PatternMatch is an immutable detection result. A later, stronger match
// that strictly supersedes a prior one references it via SupersedesID.
type PatternMatch struct {
	ID             string
	Kind           PatternKind
	Confidence     float64
	Transactions   []string // "chain:tx_hash"
	Addresses      []string // "chain:address"
	WindowStart    time.Time
	WindowEnd      time.Time
	Evidence       string
	SupersedesID   string
	DetectedAt     time.Time
}

// RiskTargetKind identifies what a RiskAssessment scores.
type RiskTargetKind string

const (
	RiskTargetAddress     RiskTargetKind = "address"
	RiskTargetEntity      RiskTargetKind = "entity"
	RiskTargetTransaction RiskTargetKind = "transaction"
)

// RiskAssessment is a point-in-time risk snapshot.
type RiskAssessment struct {
	ID              string
	TargetKind      RiskTargetKind
	TargetID        string
	Score           float64
	FactorBreakdown map[string]float64
	ModelID         string
	Assessor        string
	AssessedAt      time.Time
}

// CaseStatus enumerates the Forensic Case lifecycle states (spec §4.9).
type CaseStatus string

const (
	CaseOpen              CaseStatus = "open"
	CaseInProgress        CaseStatus = "in_progress"
	CaseEvidenceCollection CaseStatus = "evidence_collection"
	CaseAnalysis          CaseStatus = "analysis"
	CaseReview            CaseStatus = "review"
	CaseClosed            CaseStatus = "closed"
	CaseArchived          CaseStatus = "archived"
)

// CaseNote is a free-text note appended to a case's notes history.
type CaseNote struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// CaseAuditEntry records one status transition (spec §4.9).
type CaseAuditEntry struct {
	Actor     string
	From      CaseStatus
	To        CaseStatus
	Reason    string
	Timestamp time.Time
}

// ForensicCase is the investigative workflow container (spec §3, §4.9).
//
// Invariant: ClosedAt is set iff Status in {CaseClosed, CaseArchived}.
type ForensicCase struct {
	ID               string
	Title            string
	Description      string
	Priority         string
	Status           CaseStatus
	AssignedInvestigator string
	Jurisdiction     string
	LegalStandard    string
	EvidenceIDs      []string
	EvidenceCount    int
	Tags             []string
	Notes            []CaseNote
	AuditLog         []CaseAuditEntry
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

// IntegrityStatus is an Evidence Item's verified state.
type IntegrityStatus string

const (
	IntegrityVerified  IntegrityStatus = "verified"
	IntegrityTampered  IntegrityStatus = "tampered"
	IntegrityCorrupted IntegrityStatus = "corrupted"
	IntegrityUnknown   IntegrityStatus = "unknown"
)

// CustodyAction enumerates the actions a CustodyEntry may record (spec §3).
type CustodyAction string

const (
	CustodyCollected  CustodyAction = "collected"
	CustodyTransferred CustodyAction = "transferred"
	CustodyAnalyzed   CustodyAction = "analyzed"
	CustodyStored     CustodyAction = "stored"
	CustodyPresented  CustodyAction = "presented"
	CustodyReturned   CustodyAction = "returned"
	CustodyDestroyed  CustodyAction = "destroyed"
)

// CustodyEntry is one Merkle-linked chain-of-custody log record (spec §4.5).
// EntryHash commits to (Actor, Action, Location, Notes, Timestamp, PrevHash).
type CustodyEntry struct {
	Actor     string
	Action    CustodyAction
	Timestamp time.Time
	Location  string
	Notes     string
	PrevHash  string
	EntryHash string
}

// EvidenceItem is a content-addressed artifact referenced by a case (spec §4.5).
type EvidenceItem struct {
	ID          string
	CaseID      string
	Type        string
	Source      string
	Collector   string
	Digest      string // SHA-256 hex over canonical bytes
	Size        int64
	Integrity   IntegrityStatus
	Custody     []CustodyEntry
	Metadata    map[string]string
	StoragePath string
	CreatedAt   time.Time
	BackupCount int
}

// ReportStatus is a generated Report's workflow state.
type ReportStatus string

const (
	ReportDraft    ReportStatus = "draft"
	ReportPending  ReportStatus = "pending_approval"
	ReportApproved ReportStatus = "approved"
	ReportRejected ReportStatus = "rejected"
)

// Report is a generated artifact referencing a case (spec §3).
type Report struct {
	ID         string
	CaseID     string
	TemplateID string
	Status     ReportStatus
	Format     string
	FilePath   string
	Digest     string
	WordCount  int
	Version    int
	CreatedAt  time.Time
	ApprovedBy string
	ApprovedAt *time.Time
}

// AdmissibilityVerdict is the Court-Defensibility Assessor's output category.
type AdmissibilityVerdict string

const (
	VerdictAdmissible   AdmissibilityVerdict = "admissible"
	VerdictConditional  AdmissibilityVerdict = "conditional"
	VerdictUnderReview  AdmissibilityVerdict = "under_review"
	VerdictInadmissible AdmissibilityVerdict = "inadmissible"
)

// Challenge is an anticipated admissibility objection.
type Challenge struct {
	Kind       string // e.g. "hearsay", "authentication", "relevance"
	Severity   string
	Likelihood float64
}

// ComplianceRecord is a court-defensibility assessment for a case or
// evidence item against a (jurisdiction, court type, legal standard) triple
// (spec §3, §4.6).
type ComplianceRecord struct {
	ID              string
	CaseID          string
	EvidenceID      string // optional, empty when assessing the whole case
	Jurisdiction    string
	CourtType       string
	LegalStandard   string
	RequirementsMet []string
	RequirementsGap []string
	RelevanceScore  float64
	ReliabilityScore float64
	ComplianceScore float64
	Verdict         AdmissibilityVerdict
	Challenges      []Challenge
	AssessedAt      time.Time
}

// AlertOperator is the closed set of comparison operators an Alert Rule's
// condition tree may use (spec §3, §9: represented as an enumerated
// variant, not a string switch).
type AlertOperator string

const (
	OpGreaterThan    AlertOperator = "gt"
	OpLessThan       AlertOperator = "lt"
	OpEqual          AlertOperator = "eq"
	OpNotEqual       AlertOperator = "ne"
	OpGreaterOrEqual AlertOperator = "gte"
	OpLessOrEqual    AlertOperator = "lte"
	OpContains       AlertOperator = "contains"
	OpNotContains    AlertOperator = "not_contains"
)

// AlertCondition is one leaf of an Alert Rule's condition tree: a dotted
// JSON field path compared against a threshold by Op.
type AlertCondition struct {
	Field     string
	Op        AlertOperator
	Threshold interface{}
}

// AlertRule is a named, versioned predicate over metric/event submissions
// (spec §3, §4.7).
type AlertRule struct {
	ID              string
	Name            string
	Version         int
	Severity        string
	Conditions      []AlertCondition
	MessageTemplate string
	RateLimitWindow time.Duration
	LastEmittedAt   time.Time
	Enabled         bool
}

// PayloadFormat enumerates the webhook payload shapes (spec §3, §6).
type PayloadFormat string

const (
	FormatDefault PayloadFormat = "default"
	FormatChatA   PayloadFormat = "chat-A"
	FormatChatB   PayloadFormat = "chat-B"
	FormatChatC   PayloadFormat = "chat-C"
	FormatEmail   PayloadFormat = "email"
)

// WebhookRegistration is a notification sink definition (spec §3, §4.7).
type WebhookRegistration struct {
	ID                  string
	URL                 string
	Method              string
	Headers             map[string]string
	Format              PayloadFormat
	EventFilters        []string
	SeverityFilters     []string
	MinDeliveryInterval time.Duration
	LastDeliveredAt     time.Time
	Enabled             bool
}

// Notification is the unit of work the webhook dispatcher consumes,
// produced by the alert rule engine.
type Notification struct {
	ID        string
	EventType string
	Severity  string
	Message   string
	Data      map[string]interface{}
	EnqueuedAt time.Time
}
