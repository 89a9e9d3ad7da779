package steam

import (
	"regexp"
	"strconv"
)

// ErrorCause classifies a trade failure reported by Steam.
type ErrorCause string

const (
	CauseUnknown               ErrorCause = ""
	CauseTradeBan              ErrorCause = "TradeBan"
	CauseNewDevice             ErrorCause = "NewDevice"
	CauseTargetCannotTrade     ErrorCause = "TargetCannotTrade"
	CauseOfferLimitExceeded    ErrorCause = "OfferLimitExceeded"
	CauseItemServerUnavailable ErrorCause = "ItemServerUnavailable"
)

var (
	eresultSuffixExp = regexp.MustCompile(`\((\d+)\)$`)

	causeExps = []struct {
		exp     *regexp.Regexp
		cause   ErrorCause
		eresult EResult
	}{
		{regexp.MustCompile(`You cannot trade with .* because they have a trade ban\.`), CauseTradeBan, 0},
		{regexp.MustCompile(`You have logged in from a new device`), CauseNewDevice, 0},
		{regexp.MustCompile(`is not available to trade\. More information will be shown to`), CauseTargetCannotTrade, 0},
		{regexp.MustCompile(`sent too many trade offers`), CauseOfferLimitExceeded, EResultLimitExceeded},
		{regexp.MustCompile(`unable to contact the game's item server`), CauseItemServerUnavailable, EResultServiceUnavailable},
	}
)

// TradeError is a business failure returned in a strError payload.
type TradeError struct {
	Message string
	Cause   ErrorCause
	EResult EResult
}

func (e *TradeError) Error() string {
	return e.Message
}

// NewTradeError classifies a strError message.
func NewTradeError(message string) *TradeError {
	err := &TradeError{Message: message}

	if m := eresultSuffixExp.FindStringSubmatch(message); m != nil {
		n, _ := strconv.Atoi(m[1])
		err.EResult = EResult(n)
	}

	for _, c := range causeExps {
		if c.exp.MatchString(message) {
			err.Cause = c.cause
			if c.eresult != 0 {
				err.EResult = c.eresult
			}
		}
	}

	return err
}
