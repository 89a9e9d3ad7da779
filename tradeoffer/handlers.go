package tradeoffer

// Handlers receives Manager events. Nil fields are ignored. Handlers run on
// the poll goroutine and must not block for long; they may call back into the
// Manager and its offers.
type Handlers struct {
	NewOffer             func(o *Offer)
	SentOfferChanged     func(o *Offer, prev OfferState)
	ReceivedOfferChanged func(o *Offer, prev OfferState)
	UnknownOfferSent     func(o *Offer)

	// SentOfferCanceled fires after an automatic cancel. reason is
	// "cancelTime" or "cancelOfferCount".
	SentOfferCanceled        func(o *Offer, reason string)
	SentPendingOfferCanceled func(o *Offer)

	RealTimeTradeConfirmationRequired func(o *Offer)
	RealTimeTradeCompleted            func(o *Offer)

	OfferList func(filter OfferFilter, sent, received []*Offer)

	PollSuccess func()
	PollFailure func(err error)
	PollData    func(pd *PollData)
}

const (
	CancelReasonTime  = "cancelTime"
	CancelReasonCount = "cancelOfferCount"
)

func (h *Handlers) newOffer(o *Offer) {
	if h.NewOffer != nil {
		h.NewOffer(o)
	}
}

func (h *Handlers) sentOfferChanged(o *Offer, prev OfferState) {
	if h.SentOfferChanged != nil {
		h.SentOfferChanged(o, prev)
	}
}

func (h *Handlers) receivedOfferChanged(o *Offer, prev OfferState) {
	if h.ReceivedOfferChanged != nil {
		h.ReceivedOfferChanged(o, prev)
	}
}

func (h *Handlers) unknownOfferSent(o *Offer) {
	if h.UnknownOfferSent != nil {
		h.UnknownOfferSent(o)
	}
}

func (h *Handlers) sentOfferCanceled(o *Offer, reason string) {
	if h.SentOfferCanceled != nil {
		h.SentOfferCanceled(o, reason)
	}
}

func (h *Handlers) sentPendingOfferCanceled(o *Offer) {
	if h.SentPendingOfferCanceled != nil {
		h.SentPendingOfferCanceled(o)
	}
}

func (h *Handlers) realTimeConfirmationRequired(o *Offer) {
	if h.RealTimeTradeConfirmationRequired != nil {
		h.RealTimeTradeConfirmationRequired(o)
	}
}

func (h *Handlers) realTimeCompleted(o *Offer) {
	if h.RealTimeTradeCompleted != nil {
		h.RealTimeTradeCompleted(o)
	}
}

func (h *Handlers) offerList(filter OfferFilter, sent, received []*Offer) {
	if h.OfferList != nil {
		h.OfferList(filter, sent, received)
	}
}

func (h *Handlers) pollSuccess() {
	if h.PollSuccess != nil {
		h.PollSuccess()
	}
}

func (h *Handlers) pollFailure(err error) {
	if h.PollFailure != nil {
		h.PollFailure(err)
	}
}

func (h *Handlers) pollDataChanged(pd *PollData) {
	if h.PollData != nil {
		h.PollData(pd)
	}
}
