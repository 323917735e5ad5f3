package model

// TargetFields lists the columns of each supported target table. Schema
// validation requires every mapped record to carry the table's required
// fields; "custom" accepts any shape.
var TargetFields = map[string][]string{
	"transactions": {
		"transaction_id", "account_id", "member_id", "amount",
		"transaction_type", "description", "transaction_date", "posted_date",
		"category", "merchant_name", "balance_after", "status",
	},
	"accounts": {
		"account_id", "member_id", "account_type", "account_number",
		"balance", "available_balance", "status", "opened_date",
		"closed_date", "interest_rate", "credit_limit",
	},
	"members": {
		"member_id", "first_name", "last_name", "email", "phone",
		"date_of_birth", "ssn_last4", "address_line1", "city", "state",
		"zip_code", "join_date", "status",
	},
	"loans": {
		"loan_id", "member_id", "account_id", "loan_type",
		"original_amount", "current_balance", "interest_rate",
		"monthly_payment", "origination_date", "maturity_date", "status",
		"delinquency_days",
	},
	"fraud_alerts": {
		"alert_id", "member_id", "account_id", "transaction_id",
		"alert_type", "severity", "description", "detected_at",
		"resolved_at", "status", "score",
	},
	"deposits": {
		"deposit_id", "account_id", "member_id", "amount", "deposit_type",
		"deposit_date", "source", "status", "reference_number",
	},
	"custom": {},
}

// requiredTargetFields is the subset of columns a record must carry to be
// accepted. Identity and amount columns are required; descriptive columns
// are optional.
var requiredTargetFields = map[string][]string{
	"transactions": {"transaction_id", "account_id", "amount", "transaction_date"},
	"accounts":     {"account_id", "member_id", "account_type", "balance"},
	"members":      {"member_id", "first_name", "last_name"},
	"loans":        {"loan_id", "member_id", "loan_type", "current_balance"},
	"fraud_alerts": {"alert_id", "alert_type", "severity", "detected_at"},
	"deposits":     {"deposit_id", "account_id", "amount", "deposit_date"},
	"custom":       {},
}

// ValidTarget reports whether table is a known target table.
func ValidTarget(table string) bool {
	_, ok := TargetFields[table]
	return ok
}

// RequiredFields returns the required columns for a target table.
func RequiredFields(table string) []string {
	return requiredTargetFields[table]
}
