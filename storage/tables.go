package storage

import "fmt"

// Table identifies a table in the embedded store. Only the constants below are
// valid; anything else is rejected before SQL is built.
type Table string

// Core tables
const (
	TableFirmSettings          Table = "firm_settings"
	TableFinancialYears        Table = "financial_years"
	TableProfiles              Table = "profiles"
	TableUserRoles             Table = "user_roles"
	TablePartners              Table = "partners"
	TableClients               Table = "clients"
	TableEngagements           Table = "engagements"
	TableEngagementAssignments Table = "engagement_assignments"
	TableNotifications         Table = "notifications"
	TableActivityLogs          Table = "activity_logs"
	TableAuditTrail            Table = "audit_trail"
	TableFeedbackReports       Table = "feedback_reports"
	TableFeedbackAttachments   Table = "feedback_attachments"
	TableTallyBridgeSessions   Table = "tally_bridge_sessions"
	TableTallyBridgeRequests   Table = "tally_bridge_requests"
)

// Audit workflow tables
const (
	TableComplianceApplicability       Table = "compliance_applicability"
	TableMaterialityRiskAssessment     Table = "materiality_risk_assessment"
	TableRisks                         Table = "risks"
	TableAuditProcedures               Table = "audit_procedures"
	TableProcedureAssignees            Table = "procedure_assignees"
	TableProcedureChecklistItems       Table = "procedure_checklist_items"
	TableProcedureEvidenceRequirements Table = "procedure_evidence_requirements"
	TableEvidenceFiles                 Table = "evidence_files"
	TableEvidenceLinks                 Table = "evidence_links"
	TableReviewNotes                   Table = "review_notes"
)

// Audit program tables
const (
	TableAuditProgramsNew          Table = "audit_programs_new"
	TableAuditProgramSections      Table = "audit_program_sections"
	TableAuditProgramBoxes         Table = "audit_program_boxes"
	TableAuditProgramAttachments   Table = "audit_program_attachments"
	TableEngagementLetterTemplates Table = "engagement_letter_templates"
)

// Audit report tables
const (
	TableAuditReportSetup            Table = "audit_report_setup"
	TableAuditReportMainContent      Table = "audit_report_main_content"
	TableAuditReportDocuments        Table = "audit_report_documents"
	TableAuditReportDocumentVersions Table = "audit_report_document_versions"
	TableAuditReportComments         Table = "audit_report_comments"
	TableAuditReportEvidence         Table = "audit_report_evidence"
	TableAuditReportExports          Table = "audit_report_exports"
	TableKeyAuditMatters             Table = "key_audit_matters"
	TableCaroClauseLibrary           Table = "caro_clause_library"
	TableCaroClauseResponses         Table = "caro_clause_responses"
	TableCaroStandardAnswers         Table = "caro_standard_answers"
)

// Trial balance tables
const (
	TableTrialBalanceLines        Table = "trial_balance_lines"
	TableScheduleIIIConfig        Table = "schedule_iii_config"
	TableTBEntityInfo             Table = "tb_new_entity_info"
	TableTBLedgers                Table = "tb_new_ledgers"
	TableTBStockItems             Table = "tb_new_stock_items"
	TableTBClassificationMappings Table = "tb_new_classification_mappings"
	TableTBSessions               Table = "tb_new_sessions"
)

// Going concern tables
const (
	TableGoingConcernWorkpapers     Table = "going_concern_workpapers"
	TableGoingConcernChecklistItems Table = "going_concern_checklist_items"
	TableGCAnnexureNetWorth         Table = "gc_annexure_net_worth"
	TableGCAnnexureProfitability    Table = "gc_annexure_profitability"
	TableGCAnnexureBorrowings       Table = "gc_annexure_borrowings"
	TableGCAnnexureCashFlows        Table = "gc_annexure_cash_flows"
	TableGCAnnexureRatios           Table = "gc_annexure_ratios"
)

// Rule engine tables
const (
	TableAileRuleSets              Table = "aile_rule_sets"
	TableAileMappingRules          Table = "aile_mapping_rules"
	TableRuleEngineGroupRules      Table = "rule_engine_group_rules"
	TableRuleEngineKeywordRules    Table = "rule_engine_keyword_rules"
	TableRuleEngineOverrideRules   Table = "rule_engine_override_rules"
	TableRuleEngineValidationRules Table = "rule_engine_validation_rules"
)

// Template tables
const (
	TableStandardPrograms                      Table = "standard_programs"
	TableStandardProcedures                    Table = "standard_procedures"
	TableProcedureTemplateChecklistItems       Table = "procedure_template_checklist_items"
	TableProcedureTemplateEvidenceRequirements Table = "procedure_template_evidence_requirements"
	TableFSTemplates                           Table = "fs_templates"
)

// allTables is in schema-script order.
var allTables = []Table{
	TableFirmSettings, TableFinancialYears, TableProfiles, TableUserRoles, TablePartners,
	TableClients, TableEngagements, TableEngagementAssignments, TableNotifications,
	TableActivityLogs, TableAuditTrail, TableFeedbackReports, TableFeedbackAttachments,
	TableTallyBridgeSessions, TableTallyBridgeRequests,

	TableComplianceApplicability, TableMaterialityRiskAssessment, TableRisks,
	TableAuditProcedures, TableProcedureAssignees, TableProcedureChecklistItems,
	TableProcedureEvidenceRequirements, TableEvidenceFiles, TableEvidenceLinks, TableReviewNotes,

	TableAuditProgramsNew, TableAuditProgramSections, TableAuditProgramBoxes,
	TableAuditProgramAttachments, TableEngagementLetterTemplates,

	TableAuditReportSetup, TableAuditReportMainContent, TableAuditReportDocuments,
	TableAuditReportDocumentVersions, TableAuditReportComments, TableAuditReportEvidence,
	TableAuditReportExports, TableKeyAuditMatters, TableCaroClauseLibrary,
	TableCaroClauseResponses, TableCaroStandardAnswers,

	TableTrialBalanceLines, TableScheduleIIIConfig, TableTBEntityInfo, TableTBLedgers,
	TableTBStockItems, TableTBClassificationMappings, TableTBSessions,

	TableGoingConcernWorkpapers, TableGoingConcernChecklistItems, TableGCAnnexureNetWorth,
	TableGCAnnexureProfitability, TableGCAnnexureBorrowings, TableGCAnnexureCashFlows,
	TableGCAnnexureRatios,

	TableAileRuleSets, TableAileMappingRules, TableRuleEngineGroupRules,
	TableRuleEngineKeywordRules, TableRuleEngineOverrideRules, TableRuleEngineValidationRules,

	TableStandardPrograms, TableStandardProcedures, TableProcedureTemplateChecklistItems,
	TableProcedureTemplateEvidenceRequirements, TableFSTemplates,
}

var tableSet = func() map[Table]struct{} {
	set := make(map[Table]struct{}, len(allTables))
	for _, t := range allTables {
		set[t] = struct{}{}
	}
	return set
}()

// AllTables returns every known table in schema order. The slice is a copy.
func AllTables() []Table {
	out := make([]Table, len(allTables))
	copy(out, allTables)
	return out
}

// Valid reports whether t is a member of the table enumeration.
func (t Table) Valid() bool {
	_, ok := tableSet[t]
	return ok
}

func (t Table) String() string {
	return string(t)
}

// ParseTable converts an external name (URL segment, CLI argument) to a Table.
func ParseTable(name string) (Table, error) {
	t := Table(name)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// sensitiveColumns never leave the store through the generic table surface.
var sensitiveColumns = map[Table]map[string]bool{
	TableProfiles: {"password_hash": true},
}

// IsSensitive reports whether column of t must not be returned, filtered on
// or written by callers outside this package.
func (t Table) IsSensitive(column string) bool {
	return sensitiveColumns[t][column]
}

// Redact removes t's sensitive columns from rows in place.
func (t Table) Redact(rows ...Row) {
	cols := sensitiveColumns[t]
	if len(cols) == 0 {
		return
	}
	for _, r := range rows {
		for c := range cols {
			delete(r, c)
		}
	}
}
