package tradeoffer

import "strconv"

// OfferState is the lifecycle state of a trade offer. Values match the Web API codes.
type OfferState int

const (
	StateUnsent OfferState = iota
	StateInvalid
	StateActive
	StateAccepted
	StateCountered
	StateExpired
	StateCanceled
	StateDeclined
	StateInvalidItems
	StateCreatedNeedsConfirmation
	StateCanceledBySecondFactor
	StateInEscrow
)

var offerStateNames = [...]string{
	"Unsent",
	"Invalid",
	"Active",
	"Accepted",
	"Countered",
	"Expired",
	"Canceled",
	"Declined",
	"InvalidItems",
	"CreatedNeedsConfirmation",
	"CanceledBySecondFactor",
	"InEscrow",
}

func (s OfferState) String() string {
	if s >= 0 && int(s) < len(offerStateNames) {
		return offerStateNames[s]
	}
	return "OfferState(" + strconv.Itoa(int(s)) + ")"
}

// Open reports whether the offer can still be canceled or declined.
func (s OfferState) Open() bool {
	return s == StateActive || s == StateCreatedNeedsConfirmation
}

type ConfirmationMethod int

const (
	ConfirmationNone ConfirmationMethod = iota
	ConfirmationEmail
	ConfirmationMobileApp
)

func (m ConfirmationMethod) String() string {
	switch m {
	case ConfirmationNone:
		return "None"
	case ConfirmationEmail:
		return "Email"
	case ConfirmationMobileApp:
		return "MobileApp"
	}
	return "ConfirmationMethod(" + strconv.Itoa(int(m)) + ")"
}

// SendStatus is the outcome of a successful Send.
type SendStatus string

const (
	SendSent    SendStatus = "sent"
	SendPending SendStatus = "pending"
)

// AcceptStatus is the outcome of a successful Accept.
type AcceptStatus string

const (
	AcceptAccepted AcceptStatus = "accepted"
	AcceptPending  AcceptStatus = "pending"
	AcceptEscrow   AcceptStatus = "escrow"
)

// SessionStatus is the status of a real-time trade session.
type SessionStatus int

const (
	SessionActive SessionStatus = iota
	SessionComplete
	SessionEmpty
	SessionCanceled
	SessionTimedOut
	SessionFailed
	SessionTurnedIntoTradeOffer
)

var sessionStatusNames = [...]string{
	"Active",
	"Complete",
	"Empty",
	"Canceled",
	"TimedOut",
	"Failed",
	"TurnedIntoTradeOffer",
}

func (s SessionStatus) String() string {
	if s >= 0 && int(s) < len(sessionStatusNames) {
		return sessionStatusNames[s]
	}
	return "SessionStatus(" + strconv.Itoa(int(s)) + ")"
}

// SessionAction is the action code of a trade session event.
type SessionAction int

const (
	ActionAddItem    SessionAction = 0
	ActionRemoveItem SessionAction = 1
	ActionReady      SessionAction = 2
	ActionUnready    SessionAction = 3
	ActionConfirm    SessionAction = 4
	ActionChat       SessionAction = 7
)

func (a SessionAction) String() string {
	switch a {
	case ActionAddItem:
		return "AddItem"
	case ActionRemoveItem:
		return "RemoveItem"
	case ActionReady:
		return "Ready"
	case ActionUnready:
		return "Unready"
	case ActionConfirm:
		return "Confirm"
	case ActionChat:
		return "Chat"
	}
	return "SessionAction(" + strconv.Itoa(int(a)) + ")"
}

// TradeStatus is the status of a completed exchange as reported by GetTradeStatus.
type TradeStatus int

const (
	TradeInit TradeStatus = iota
	TradePreCommitted
	TradeCommitted
	TradeComplete
	TradeFailed
	TradePartialSupportRollback
	TradeFullSupportRollback
	TradeSupportRollbackSelective
	TradeRollbackFailed
	TradeRollbackAbandoned
	TradeInEscrow
	TradeEscrowRollback
)

var tradeStatusNames = [...]string{
	"Init",
	"PreCommitted",
	"Committed",
	"Complete",
	"Failed",
	"PartialSupportRollback",
	"FullSupportRollback",
	"SupportRollback_Selective",
	"RollbackFailed",
	"RollbackAbandoned",
	"InEscrow",
	"EscrowRollback",
}

func (s TradeStatus) String() string {
	if s >= 0 && int(s) < len(tradeStatusNames) {
		return tradeStatusNames[s]
	}
	return "TradeStatus(" + strconv.Itoa(int(s)) + ")"
}

// Settled reports whether items moved or are held in escrow.
func (s TradeStatus) Settled() bool {
	return s == TradeComplete || s == TradeInEscrow || s == TradeEscrowRollback
}

// OfferFilter selects which offers GetOffers returns.
type OfferFilter int

const (
	FilterActiveOnly OfferFilter = iota + 1
	FilterHistoricalOnly
	FilterAll
)
