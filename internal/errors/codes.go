package errors

// 基础设施错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeLedgerFailure         Code = "LEDGER_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 交易、奖励与预言机共享的业务错误码。业务错误对调用方而言都是终止性的，
// 且不会产生任何状态变更。
const (
	CodeInvalidParameters   Code = "INVALID_PARAMETERS"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeSlippageExceeded    Code = "SLIPPAGE_EXCEEDED"
	CodeCurveExhausted      Code = "CURVE_EXHAUSTED"
	CodeInsufficientReserve Code = "INSUFFICIENT_RESERVE"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyClaimed      Code = "ALREADY_CLAIMED"
	CodeNothingToClaim      Code = "NOTHING_TO_CLAIM"
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeAccountExists       Code = "ACCOUNT_EXISTS"
	CodeArithmeticOverflow  Code = "ARITHMETIC_OVERFLOW"
)

// 常用的结构化元数据键。
const (
	MetaRequiredMin        = "required_min"
	MetaActual             = "actual"
	MetaAvailable          = "available"
	MetaRequired           = "required"
	MetaAddress            = "address"
	MetaAgentID            = "agent_id"
	MetaPeriod             = "period"
	MetaNextEligiblePeriod = "next_eligible_period"
	MetaField              = "field"
)

func terminal(msg string, sev Severity) Attributes {
	return Attributes{Message: msg, Severity: sev, Alert: sev == SeverityCritical}
}

func transient(msg string, sev Severity) Attributes {
	return Attributes{Message: msg, Severity: sev, Retryable: true, Alert: true}
}

var builtin = map[Code]Attributes{
	CodeUnknown:               terminal("unknown error", SeverityCritical),
	CodeInvalidArgument:       terminal("invalid argument", SeverityInfo),
	CodeNotFound:              terminal("resource not found", SeverityInfo),
	CodeConflict:              terminal("resource conflict", SeverityWarning),
	CodeInitializationFailure: transient("service not initialized", SeverityWarning),
	CodeStorageFailure:        transient("storage failure", SeverityCritical),
	CodeQueueFailure:          transient("queue failure", SeverityCritical),
	CodeLedgerFailure:         transient("ledger submission failure", SeverityWarning),
	CodeTimeout:               transient("operation timed out", SeverityWarning),

	CodeInvalidParameters:   terminal("invalid parameters", SeverityInfo),
	CodeUnauthorized:        terminal("signer is not authorized", SeverityWarning),
	CodeSlippageExceeded:    terminal("slippage tolerance exceeded", SeverityInfo),
	CodeCurveExhausted:      terminal("bonding curve exhausted", SeverityInfo),
	CodeInsufficientReserve: {Message: "insufficient reserve", Severity: SeverityWarning, Alert: true},
	CodeInsufficientFunds:   terminal("insufficient funds", SeverityInfo),
	CodeAlreadyClaimed:      terminal("rewards already claimed for period", SeverityInfo),
	CodeNothingToClaim:      terminal("nothing to claim", SeverityInfo),
	CodeAccountNotFound:     terminal("account not found", SeverityInfo),
	CodeAccountExists:       terminal("account already exists", SeverityInfo),
	CodeArithmeticOverflow:  terminal("arithmetic overflow", SeverityCritical),
}

// 哨兵错误，用于 errors.Is 按错误码比较。
var (
	ErrInvalidParameters   = New(CodeInvalidParameters, "")
	ErrUnauthorized        = New(CodeUnauthorized, "")
	ErrSlippageExceeded    = New(CodeSlippageExceeded, "")
	ErrCurveExhausted      = New(CodeCurveExhausted, "")
	ErrInsufficientReserve = New(CodeInsufficientReserve, "")
	ErrInsufficientFunds   = New(CodeInsufficientFunds, "")
	ErrAlreadyClaimed      = New(CodeAlreadyClaimed, "")
	ErrNothingToClaim      = New(CodeNothingToClaim, "")
	ErrAccountNotFound     = New(CodeAccountNotFound, "")
	ErrAccountExists       = New(CodeAccountExists, "")
	ErrArithmeticOverflow  = New(CodeArithmeticOverflow, "")
)
