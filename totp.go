package steam

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
)

var codeChars = []byte("23456789BCDFGHJKMNPQRTVWXY")

// GenerateTwoFactorCode returns the five character Steam Guard code for time t.
func GenerateTwoFactorCode(sharedSecret string, t int64) (string, error) {
	key, err := base64.StdEncoding.DecodeString(sharedSecret)
	if err != nil {
		return "", err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t/30))

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	start := sum[19] & 0x0f
	full := binary.BigEndian.Uint32(sum[start:start+4]) & 0x7fffffff

	code := make([]byte, 5)
	for i := range code {
		code[i] = codeChars[full%uint32(len(codeChars))]
		full /= uint32(len(codeChars))
	}
	return string(code), nil
}

// GenerateConfirmationCode returns the base64 key used to sign mobile confirmation requests.
func GenerateConfirmationCode(identitySecret, tag string, t int64) (string, error) {
	key, err := base64.StdEncoding.DecodeString(identitySecret)
	if err != nil {
		return "", err
	}

	if len(tag) > 32 {
		tag = tag[:32]
	}

	buf := make([]byte, 8, 8+len(tag))
	binary.BigEndian.PutUint64(buf, uint64(t))
	buf = append(buf, tag...)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
