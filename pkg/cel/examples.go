package cel

// RoutingExpressionExamples are sample routing rules, one per common need.
var RoutingExpressionExamples = map[string]string{
	"operational_only":      `operational`,
	"user_with_recipient":   `!operational && recipient != ""`,
	"single_type":           `event_type == "LeaseFrozen"`,
	"type_in_list":          `event_type in ["LeaseBudgetExceeded", "LeaseFrozen"]`,
	"budget_over_ninety":    `event_type == "LeaseBudgetThresholdAlert" && has(detail.percent) && double(detail.percent) >= 90.0`,
	"recipient_domain":      `recipient_domain == "team.agency.gov"`,
	"account_scoped":        `account_id != "" && account_id.startsWith("1234")`,
	"source_check":          `source == "leases"`,
	"case_insensitive_type": `event_type.lowerAscii() == "leaseexpired"`,
}
