package migrate

import "auditdesk/storage"

// order lists every table parents-first so foreign keys resolve as rows land.
var order = []storage.Table{
	// Core
	storage.TableFirmSettings,
	storage.TableFinancialYears,
	storage.TableProfiles,
	storage.TableUserRoles,
	storage.TablePartners,
	storage.TableClients,
	storage.TableEngagements,
	storage.TableEngagementAssignments,

	// Audit workflow
	storage.TableComplianceApplicability,
	storage.TableMaterialityRiskAssessment,
	storage.TableRisks,

	// Templates are referenced by procedures
	storage.TableStandardPrograms,
	storage.TableStandardProcedures,
	storage.TableProcedureTemplateChecklistItems,
	storage.TableProcedureTemplateEvidenceRequirements,

	storage.TableAuditProcedures,
	storage.TableProcedureAssignees,
	storage.TableProcedureChecklistItems,
	storage.TableProcedureEvidenceRequirements,
	storage.TableEvidenceFiles,
	storage.TableEvidenceLinks,
	storage.TableReviewNotes,
	storage.TableNotifications,

	// Audit programs
	storage.TableAuditProgramsNew,
	storage.TableAuditProgramSections,
	storage.TableAuditProgramBoxes,
	storage.TableAuditProgramAttachments,
	storage.TableEngagementLetterTemplates,

	// Audit reports
	storage.TableAuditReportSetup,
	storage.TableAuditReportMainContent,
	storage.TableAuditReportDocuments,
	storage.TableAuditReportDocumentVersions,
	storage.TableAuditReportComments,
	storage.TableAuditReportEvidence,
	storage.TableAuditReportExports,
	storage.TableKeyAuditMatters,
	storage.TableCaroClauseLibrary,
	storage.TableCaroClauseResponses,
	storage.TableCaroStandardAnswers,

	// Trial balance
	storage.TableTrialBalanceLines,
	storage.TableScheduleIIIConfig,
	storage.TableTBEntityInfo,
	storage.TableTBLedgers,
	storage.TableTBStockItems,
	storage.TableTBClassificationMappings,
	storage.TableTBSessions,

	// Going concern
	storage.TableGoingConcernWorkpapers,
	storage.TableGoingConcernChecklistItems,
	storage.TableGCAnnexureNetWorth,
	storage.TableGCAnnexureProfitability,
	storage.TableGCAnnexureBorrowings,
	storage.TableGCAnnexureCashFlows,
	storage.TableGCAnnexureRatios,

	// Rule engine
	storage.TableAileRuleSets,
	storage.TableAileMappingRules,
	storage.TableRuleEngineGroupRules,
	storage.TableRuleEngineKeywordRules,
	storage.TableRuleEngineOverrideRules,
	storage.TableRuleEngineValidationRules,

	storage.TableFSTemplates,

	// System
	storage.TableActivityLogs,
	storage.TableAuditTrail,
	storage.TableTallyBridgeSessions,
	storage.TableTallyBridgeRequests,
	storage.TableFeedbackReports,
	storage.TableFeedbackAttachments,
}

// Order returns the migration order. The slice is a copy.
func Order() []storage.Table {
	out := make([]storage.Table, len(order))
	copy(out, order)
	return out
}

func inOrder(t storage.Table) bool {
	for _, o := range order {
		if o == t {
			return true
		}
	}
	return false
}
