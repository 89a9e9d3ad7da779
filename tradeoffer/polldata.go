package tradeoffer

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
)

// PollData is the persisted reconciliation ledger of a Manager.
//
// Offer ids are encoded as string keys and states as their numeric codes, so
// the layout is
//
//	{"offersSince":N,"sent":{"id":state},"received":{"id":state},"timestamps":{"id":N},"offerData":{"id":{"key":value}}}
//
// offerData values are kept as raw JSON and survive a round trip unchanged.
type PollData struct {
	OffersSince int64                                 `json:"offersSince"`
	Sent        map[uint64]OfferState                 `json:"sent"`
	Received    map[uint64]OfferState                 `json:"received"`
	Timestamps  map[uint64]int64                      `json:"timestamps"`
	OfferData   map[uint64]map[string]json.RawMessage `json:"offerData"`
}

func NewPollData() *PollData {
	pd := &PollData{}
	pd.normalize()
	return pd
}

func (pd *PollData) normalize() {
	if pd.Sent == nil {
		pd.Sent = make(map[uint64]OfferState)
	}
	if pd.Received == nil {
		pd.Received = make(map[uint64]OfferState)
	}
	if pd.Timestamps == nil {
		pd.Timestamps = make(map[uint64]int64)
	}
	if pd.OfferData == nil {
		pd.OfferData = make(map[uint64]map[string]json.RawMessage)
	}
}

// Clone returns a deep copy.
func (pd *PollData) Clone() *PollData {
	out := &PollData{
		OffersSince: pd.OffersSince,
		Sent:        maps.Clone(pd.Sent),
		Received:    maps.Clone(pd.Received),
		Timestamps:  maps.Clone(pd.Timestamps),
		OfferData:   make(map[uint64]map[string]json.RawMessage, len(pd.OfferData)),
	}
	for id, bag := range pd.OfferData {
		cp := make(map[string]json.RawMessage, len(bag))
		for k, v := range bag {
			cp[k] = bytes.Clone(v)
		}
		out.OfferData[id] = cp
	}
	out.normalize()
	return out
}

// Equal reports structural equality.
func (pd *PollData) Equal(other *PollData) bool {
	if pd == nil || other == nil {
		return pd == other
	}
	return reflect.DeepEqual(pd, other)
}

func (pd *PollData) Encode() ([]byte, error) {
	return json.Marshal(pd)
}

// DecodePollData parses data written by Encode. Missing sections decode as empty.
func DecodePollData(data []byte) (*PollData, error) {
	pd := &PollData{}
	if err := json.Unmarshal(data, pd); err != nil {
		return nil, err
	}
	for id, bag := range pd.OfferData {
		for k, v := range bag {
			var buf bytes.Buffer
			if err := json.Compact(&buf, v); err == nil {
				bag[k] = buf.Bytes()
			}
		}
		if bag == nil {
			pd.OfferData[id] = make(map[string]json.RawMessage)
		}
	}
	pd.normalize()
	return pd, nil
}
