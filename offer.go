package steam

// TradeOffer is a trade offer as returned by the IEconService Web API.
type TradeOffer struct {
	ID                 FlexUint    `json:"tradeofferid"`
	Partner            uint32      `json:"accountid_other"`
	ReceiptID          FlexUint    `json:"tradeid"`
	RecvItems          []*EconItem `json:"items_to_receive"`
	SendItems          []*EconItem `json:"items_to_give"`
	Message            string      `json:"message"`
	State              uint8       `json:"trade_offer_state"`
	ConfirmationMethod uint8       `json:"confirmation_method"`
	Created            int64       `json:"time_created"`
	Updated            int64       `json:"time_updated"`
	Expires            int64       `json:"expiration_time"`
	EscrowEndDate      int64       `json:"escrow_end_date"`
	RealTime           bool        `json:"from_real_time_trade"`
	IsOurOffer         bool        `json:"is_our_offer"`
}

// IsSuperMalformed reports an offer without a counterparty, which Steam
// returns when its backend is having trouble.
func (offer *TradeOffer) IsSuperMalformed() bool {
	return offer.Partner == 0
}

// IsMalformed reports an offer that cannot be trusted as a stable observation.
func (offer *TradeOffer) IsMalformed() bool {
	return offer.IsSuperMalformed() || len(offer.SendItems)+len(offer.RecvItems) == 0
}

// PartnerSteamID returns the 64-bit id of the other party.
func (offer *TradeOffer) PartnerSteamID() SteamID {
	var sid SteamID
	sid.ParseDefaults(offer.Partner)
	return sid
}
