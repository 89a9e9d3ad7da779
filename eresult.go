package steam

import (
	"fmt"
	"net/http"
	"strconv"
)

// EResult is the Steam result code carried in the x-eresult header and error messages.
type EResult int

const (
	EResultInvalid            EResult = 0
	EResultOK                 EResult = 1
	EResultFail               EResult = 2
	EResultNoConnection       EResult = 3
	EResultInvalidPassword    EResult = 5
	EResultBusy               EResult = 10
	EResultInvalidState       EResult = 11
	EResultAccessDenied       EResult = 15
	EResultTimeout            EResult = 16
	EResultServiceUnavailable EResult = 20
	EResultRevoked            EResult = 26
	EResultExpired            EResult = 27
	EResultDuplicateRequest   EResult = 29
	EResultLimitExceeded      EResult = 25
	EResultRateLimitExceeded  EResult = 84
)

var eresultNames = map[EResult]string{
	EResultInvalid:            "Invalid",
	EResultOK:                 "OK",
	EResultFail:               "Fail",
	EResultNoConnection:       "NoConnection",
	EResultInvalidPassword:    "InvalidPassword",
	EResultBusy:               "Busy",
	EResultInvalidState:       "InvalidState",
	EResultAccessDenied:       "AccessDenied",
	EResultTimeout:            "Timeout",
	EResultServiceUnavailable: "ServiceUnavailable",
	EResultRevoked:            "Revoked",
	EResultExpired:            "Expired",
	EResultDuplicateRequest:   "DuplicateRequest",
	EResultLimitExceeded:      "LimitExceeded",
	EResultRateLimitExceeded:  "RateLimitExceeded",
}

func (r EResult) String() string {
	if name, ok := eresultNames[r]; ok {
		return name
	}
	return strconv.Itoa(int(r))
}

// APIError is a failed Web API or community call.
type APIError struct {
	Status  int
	EResult EResult
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("http error %d", e.Status)
	}
	return fmt.Sprintf("steam error: %s", e.EResult)
}

func eresultFromHeader(h http.Header) (EResult, bool) {
	v := h.Get("x-eresult")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return EResult(n), true
}
