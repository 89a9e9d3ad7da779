package steam

import (
	"strconv"
	"strings"
)

// SteamID is a 64-bit Steam account identifier.
type SteamID uint64

const (
	// individual account, public universe, desktop instance
	individualBase SteamID = 76561197960265728

	accountIDMask = 0xFFFFFFFF
)

func NewSteamIDFromAccountID(accountID uint32) SteamID {
	return individualBase + SteamID(accountID)
}

// ParseDefaults sets sid to the individual public account with the given account id.
func (sid *SteamID) ParseDefaults(accountID uint32) {
	*sid = NewSteamIDFromAccountID(accountID)
}

// ParseSteamID accepts a 64-bit id or the "[U:1:accountid]" form.
func ParseSteamID(s string) (SteamID, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[U:1:") && strings.HasSuffix(s, "]") {
		id, err := strconv.ParseUint(s[5:len(s)-1], 10, 32)
		if err != nil {
			return 0, err
		}
		return NewSteamIDFromAccountID(uint32(id)), nil
	}

	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return SteamID(id), nil
}

func (sid SteamID) GetAccountID() uint32 {
	return uint32(uint64(sid) & accountIDMask)
}

func (sid SteamID) ToString() string {
	return strconv.FormatUint(uint64(sid), 10)
}

func (sid SteamID) String() string {
	return sid.ToString()
}

// IsValid reports whether sid is an individual account in the public universe.
func (sid SteamID) IsValid() bool {
	return sid > individualBase && uint64(sid)>>32 == uint64(individualBase)>>32
}
