package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address identifies an account or a deployed component
type Address string

const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// ParseAddress validates a 20-byte hex address and normalizes it to lower case
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("address %q: missing 0x prefix", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return "", fmt.Errorf("address %q: %w", s, err)
	}
	if len(raw) != 20 {
		return "", fmt.Errorf("address %q: want 20 bytes, got %d", s, len(raw))
	}
	return Address("0x" + hex.EncodeToString(raw)), nil
}

// AddressFromSeed derives a deterministic address from an arbitrary label
func AddressFromSeed(seed string) Address {
	return addressFromHash(Keccak256([]byte(seed)))
}

// ContractAddress derives the address of the nonce-th component created by deployer
func ContractAddress(deployer Address, nonce uint64) Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return addressFromHash(Keccak256([]byte(deployer), n[:]))
}

func (a Address) String() string {
	return string(a)
}

func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

// Keccak256 hashes the concatenation of data
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func addressFromHash(sum []byte) Address {
	return Address("0x" + hex.EncodeToString(sum[len(sum)-20:]))
}
