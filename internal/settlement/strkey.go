package settlement

import (
	"encoding/base32"
	"encoding/binary"
)

const (
	strkeyLength          = 56
	strkeyRawLength       = 35
	versionByteAccountID  = 6 << 3 // 'G'
	ed25519PublicKeyBytes = 32
)

// IsValidAccountID reports whether address is a Stellar ed25519 public key in
// StrKey form: base32, version byte, 32 byte key, CRC16-XModem checksum.
func IsValidAccountID(address string) bool {
	if len(address) != strkeyLength {
		return false
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(address)
	if err != nil || len(raw) != strkeyRawLength {
		return false
	}
	if raw[0] != versionByteAccountID {
		return false
	}
	payload := raw[:1+ed25519PublicKeyBytes]
	want := binary.LittleEndian.Uint16(raw[1+ed25519PublicKeyBytes:])
	return crc16XModem(payload) == want
}

func crc16XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
