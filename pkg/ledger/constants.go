package ledger

const (
	operationCredit = "credit"
	operationDebit  = "debit"
	operationExpire = "expire"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
