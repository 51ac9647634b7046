// Package id implements the 160-bit node identifier and XOR distance
// algebra that everything else in this module is indexed by.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"math/bits"

	"golang.org/x/crypto/blake2b"
)

// Size is the identifier width in bytes (160 bits).
const Size = 20

// ID is a 160-bit Kademlia node/key identifier.
type ID [Size]byte

// Zero is the identifier with every bit cleared.
var Zero ID

// Xor returns the XOR distance between id and other.
func (id ID) Xor(other ID) ID {
	var out ID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// CommonPrefixLen returns the number of leading bits id and other agree on,
// in [0, 160]. It is the bucket index other belongs to in a routing table
// rooted at id.
func (id ID) CommonPrefixLen(other ID) int {
	for i := range id {
		x := id[i] ^ other[i]
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return Size * 8
}

// Less gives ID a total order by magnitude, used to break ties between
// peers at identical distance.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero identifier.
func (id ID) IsZero() bool {
	return id == Zero
}

// Random returns a cryptographically random 160-bit identifier.
func Random() ID {
	var out ID
	if _, err := rand.Read(out[:]); err != nil {
		panic("id: system randomness unavailable: " + err.Error())
	}
	return out
}

// Derive produces a stable identifier from an arbitrary seed string. It is
// meant for bootstrap/test clusters that want human-readable, reproducible
// node names instead of random ids; it carries no authentication guarantee
// and must never be used to stand in for peer identity verification.
func Derive(seed string) ID {
	sum := blake2b.Sum256([]byte(seed))
	var out ID
	copy(out[:], sum[:Size])
	return out
}

// BucketIndex returns the routing-table bucket other falls into relative to
// local. It is undefined (and panics) when other == local; callers must
// exclude the local identifier before calling.
func BucketIndex(local, other ID) int {
	if local == other {
		panic("id: BucketIndex called with other == local")
	}
	return local.CommonPrefixLen(other)
}

// RandomWithPrefix returns a random identifier sharing exactly prefixLen
// leading bits with local (and differing at bit prefixLen, if any remain).
// It is used to pick a refresh target for a given routing-table bucket:
// bucket i holds peers whose common-prefix length with local is exactly i,
// so refreshing it means looking up a random id with that same property.
func RandomWithPrefix(local ID, prefixLen int) ID {
	if prefixLen < 0 {
		prefixLen = 0
	}
	if prefixLen > Size*8 {
		prefixLen = Size * 8
	}
	out := Random()
	fullBytes := prefixLen / 8
	copy(out[:fullBytes], local[:fullBytes])
	if prefixLen == Size*8 {
		return out
	}

	bitInByte := uint(prefixLen % 8)
	var keepMask byte
	if bitInByte > 0 {
		keepMask = byte(0xFF << (8 - bitInByte))
	}
	b := (local[fullBytes] & keepMask) | (out[fullBytes] &^ keepMask)

	flipBit := byte(0x80 >> bitInByte)
	if local[fullBytes]&flipBit != 0 {
		b &^= flipBit
	} else {
		b |= flipBit
	}
	out[fullBytes] = b
	return out
}

// Distance orders two ids by their XOR distance from target: -1 if a is
// closer, 1 if b is closer, 0 if equidistant (only possible for a == b).
func Distance(a, b, target ID) int {
	da := a.Xor(target)
	db := b.Xor(target)
	for i := range da {
		if da[i] != db[i] {
			if da[i] < db[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
