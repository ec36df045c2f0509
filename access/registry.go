package access

import (
	"sort"
	"sync"

	"auditdesk/storage"
)

// Registry maps every table to its policy. It is immutable once built;
// policies are values, so Lookup hands out copies.
type Registry struct {
	policies map[storage.Table]Policy
}

// NewRegistry builds a registry from entries. The map is copied.
func NewRegistry(entries map[storage.Table]Policy) *Registry {
	policies := make(map[storage.Table]Policy, len(entries))
	for t, p := range entries {
		policies[t] = p
	}
	return &Registry{policies: policies}
}

// Lookup returns the policy for table.
func (r *Registry) Lookup(table storage.Table) (Policy, bool) {
	p, ok := r.policies[table]
	return p, ok
}

// Missing lists tables of the schema that have no policy, in schema order.
func (r *Registry) Missing() []storage.Table {
	var missing []storage.Table
	for _, t := range storage.AllTables() {
		if _, ok := r.policies[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// Tables returns the tables with a policy, sorted by name.
func (r *Registry) Tables() []storage.Table {
	out := make([]storage.Table, 0, len(r.policies))
	for t := range r.policies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the application's policy table.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(defaultPolicies())
	})
	return defaultRegistry
}

func defaultPolicies() map[storage.Table]Policy {
	p := make(map[storage.Table]Policy)
	set := func(policy Policy, tables ...storage.Table) {
		for _, t := range tables {
			p[t] = policy
		}
	}

	managerWrites := RoleGated{Insert: ManagerOrAbove, Update: ManagerOrAbove, Delete: ManagerOrAbove}
	openWrites := RoleGated{Insert: Anyone, Update: Anyone, Delete: Anyone}
	scoped := EngagementScoped{Lookup: ByEngagementID, Delete: DeleteAllowed}

	// Core
	set(SelfOwned{Writable: []string{"full_name", "phone"}}, storage.TableProfiles)
	set(RoleGated{
		Insert: Nobody("Managed by triggers only"),
		Update: Nobody("Managed by triggers only"),
		Delete: Nobody("Managed by triggers only"),
	}, storage.TableUserRoles)
	set(ReferenceTable, storage.TableFirmSettings, storage.TableFinancialYears)
	firmScoped := ReferenceTable
	firmScoped.FirmScoped = true
	set(firmScoped, storage.TablePartners, storage.TableClients)

	set(EngagementScoped{Lookup: LookupSelf, Delete: DeleteManagerOrAbove, RequireRecordForUpdate: true},
		storage.TableEngagements)
	set(managerWrites, storage.TableEngagementAssignments)

	// Audit workflow
	set(EngagementScoped{Lookup: ByEngagementID, Delete: DeleteManagerOrAbove},
		storage.TableAuditProcedures, storage.TableProcedureAssignees, storage.TableProcedureChecklistItems,
		storage.TableProcedureEvidenceRequirements, storage.TableEvidenceFiles, storage.TableEvidenceLinks,
		storage.TableRisks, storage.TableReviewNotes, storage.TableComplianceApplicability,
		storage.TableMaterialityRiskAssessment)

	// Audit programs
	set(EngagementScoped{Lookup: ByEngagementID, Delete: DeleteCreatorOrPartner},
		storage.TableAuditProgramsNew, storage.TableAuditProgramSections,
		storage.TableAuditProgramBoxes, storage.TableAuditProgramAttachments)
	set(RoleGated{Insert: PartnerOnly, Update: PartnerOnly, Delete: PartnerOnly},
		storage.TableEngagementLetterTemplates)

	// Audit reports
	set(scoped,
		storage.TableAuditReportSetup, storage.TableAuditReportMainContent, storage.TableAuditReportDocuments,
		storage.TableAuditReportDocumentVersions, storage.TableAuditReportComments,
		storage.TableAuditReportEvidence, storage.TableAuditReportExports, storage.TableKeyAuditMatters,
		storage.TableCaroClauseResponses)
	set(managerWrites, storage.TableCaroClauseLibrary, storage.TableCaroStandardAnswers)

	// Trial balance
	set(scoped,
		storage.TableTrialBalanceLines, storage.TableScheduleIIIConfig, storage.TableTBEntityInfo,
		storage.TableTBLedgers, storage.TableTBStockItems, storage.TableTBClassificationMappings,
		storage.TableTBSessions)

	// Going concern
	set(scoped,
		storage.TableGoingConcernWorkpapers, storage.TableGoingConcernChecklistItems,
		storage.TableGCAnnexureNetWorth, storage.TableGCAnnexureProfitability,
		storage.TableGCAnnexureBorrowings, storage.TableGCAnnexureCashFlows, storage.TableGCAnnexureRatios)

	// Rule engine
	set(managerWrites,
		storage.TableAileRuleSets, storage.TableAileMappingRules, storage.TableRuleEngineGroupRules,
		storage.TableRuleEngineKeywordRules, storage.TableRuleEngineValidationRules)
	set(scoped, storage.TableRuleEngineOverrideRules)

	// Templates
	set(managerWrites,
		storage.TableStandardPrograms, storage.TableStandardProcedures,
		storage.TableProcedureTemplateChecklistItems, storage.TableProcedureTemplateEvidenceRequirements)
	set(openWrites, storage.TableFSTemplates)

	// System
	set(AppendOnly{}, storage.TableActivityLogs, storage.TableAuditTrail)
	set(SelfOwned{OwnerColumn: "user_id", ScopeReads: true, AllowInsert: true, AllowDelete: true,
		Writable: []string{"is_read"}}, storage.TableNotifications)
	set(RoleGated{
		Insert: Anyone,
		Update: PartnerOnly.WithReason("Only partners can update feedback"),
		Delete: Nobody("Feedback cannot be deleted"),
	}, storage.TableFeedbackReports, storage.TableFeedbackAttachments)
	set(openWrites, storage.TableTallyBridgeSessions, storage.TableTallyBridgeRequests)

	return p
}

// legacyFilter is the row filter coverage of the desktop build this layer
// replaced. Selected with FilterCoverage "legacy".
var (
	legacyFirmTables = map[storage.Table]bool{
		storage.TableEngagements: true,
		storage.TableClients:     true,
		storage.TablePartners:    true,
	}
	legacyEngagementTables = map[storage.Table]bool{
		storage.TableAuditProcedures:        true,
		storage.TableRisks:                  true,
		storage.TableReviewNotes:            true,
		storage.TableAuditProgramsNew:       true,
		storage.TableAuditReportSetup:       true,
		storage.TableTrialBalanceLines:      true,
		storage.TableGoingConcernWorkpapers: true,
	}
)
