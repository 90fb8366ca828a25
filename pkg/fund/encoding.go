package fund

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Take-order arguments travel as fixed positional tuples so the vault's
// dispatch logic stays byte-layout uniform across venues. Each field
// occupies one 32-byte head word; dynamic byte fields store an offset in
// the head and a length-prefixed payload in the tail. Unused venue fields
// stay in the layout zero-filled rather than being dropped.

const wordSize = 32

// FieldKind enumerates the tuple field encodings.
type FieldKind int

const (
	KindAddress FieldKind = iota // <=32 byte identifier, right-padded
	KindUint                     // big-endian unsigned integer, left-padded
	KindBytes                    // dynamic bytes, offset in head word
	KindByte                     // single byte in the first byte of the word
)

// Layout is the ordered field list of one venue family's tuple.
type Layout []FieldKind

// Tuple layouts per venue family.
var (
	// minimal/internal: makerAsset, makerQuantity, takerAsset, takerQuantity
	LayoutMinimal = Layout{KindAddress, KindUint, KindAddress, KindUint}
	// on-chain order book: minimal plus the resting order id
	LayoutOasis = Layout{KindAddress, KindUint, KindAddress, KindUint, KindUint}
	// off-chain signed order book v2:
	// maker, taker, feeRecipient, sender |
	// makerAmount, takerAmount, makerFee, takerFee, expiration, salt, fillQuantity |
	// makerAssetData, takerAssetData | signature
	LayoutZeroExV2 = Layout{
		KindAddress, KindAddress, KindAddress, KindAddress,
		KindUint, KindUint, KindUint, KindUint, KindUint, KindUint, KindUint,
		KindBytes, KindBytes,
		KindBytes,
	}
	// v3 adds makerFeeAssetData and takerFeeAssetData
	LayoutZeroExV3 = Layout{
		KindAddress, KindAddress, KindAddress, KindAddress,
		KindUint, KindUint, KindUint, KindUint, KindUint, KindUint, KindUint,
		KindBytes, KindBytes, KindBytes, KindBytes,
		KindBytes,
	}
	// off-chain matched swap:
	// maker, makerToken, sender, senderToken, affiliate, signatory |
	// nonce, expiry, makerAmount, senderAmount, affiliateAmount, reserved |
	// kind selectors (reserved) | signature halves | version byte | reserved byte
	LayoutAirSwap = Layout{
		KindAddress, KindAddress, KindAddress, KindAddress, KindAddress, KindAddress,
		KindUint, KindUint, KindUint, KindUint, KindUint, KindUint,
		KindBytes, KindBytes,
		KindBytes, KindBytes,
		KindByte, KindByte,
	}
)

// EncodeTuple packs values into the layout's byte form. Accepted value
// types per kind: string (address), *big.Int (uint), []byte (bytes),
// byte (byte).
func EncodeTuple(layout Layout, values []interface{}) ([]byte, error) {
	if len(values) != len(layout) {
		return nil, fmt.Errorf("expected %d tuple values, got %d", len(layout), len(values))
	}

	head := make([]byte, len(layout)*wordSize)
	var tail []byte
	tailStart := len(head)

	for i, kind := range layout {
		word := head[i*wordSize : (i+1)*wordSize]
		switch kind {
		case KindAddress:
			addr, ok := values[i].(string)
			if !ok {
				return nil, fmt.Errorf("field %d: expected address string", i)
			}
			if len(addr) > wordSize {
				return nil, fmt.Errorf("field %d: address longer than %d bytes", i, wordSize)
			}
			copy(word, addr)
		case KindUint:
			n, ok := values[i].(*big.Int)
			if !ok || n == nil {
				return nil, fmt.Errorf("field %d: expected unsigned integer", i)
			}
			if n.Sign() < 0 {
				return nil, fmt.Errorf("field %d: negative integer", i)
			}
			raw := n.Bytes()
			if len(raw) > wordSize {
				return nil, fmt.Errorf("field %d: integer overflows word", i)
			}
			copy(word[wordSize-len(raw):], raw)
		case KindBytes:
			data, ok := values[i].([]byte)
			if !ok {
				return nil, fmt.Errorf("field %d: expected byte field", i)
			}
			offset := tailStart + len(tail)
			binary.BigEndian.PutUint64(word[wordSize-8:], uint64(offset))
			lenWord := make([]byte, wordSize)
			binary.BigEndian.PutUint64(lenWord[wordSize-8:], uint64(len(data)))
			tail = append(tail, lenWord...)
			tail = append(tail, data...)
			if pad := len(data) % wordSize; pad != 0 {
				tail = append(tail, make([]byte, wordSize-pad)...)
			}
		case KindByte:
			b, ok := values[i].(byte)
			if !ok {
				return nil, fmt.Errorf("field %d: expected single byte", i)
			}
			word[0] = b
		default:
			return nil, fmt.Errorf("field %d: unknown field kind", i)
		}
	}
	return append(head, tail...), nil
}

// DecodeTuple unpacks encoded bytes against a layout. Returned value types
// mirror EncodeTuple's accepted types.
func DecodeTuple(layout Layout, data []byte) ([]interface{}, error) {
	headLen := len(layout) * wordSize
	if len(data) < headLen {
		return nil, fmt.Errorf("truncated tuple data: %d bytes, need at least %d", len(data), headLen)
	}

	values := make([]interface{}, len(layout))
	for i, kind := range layout {
		word := data[i*wordSize : (i+1)*wordSize]
		switch kind {
		case KindAddress:
			end := wordSize
			for end > 0 && word[end-1] == 0 {
				end--
			}
			values[i] = string(word[:end])
		case KindUint:
			values[i] = new(big.Int).SetBytes(word)
		case KindBytes:
			// Bounds checks must not add to attacker-controlled words;
			// a huge offset or length would wrap around in uint64.
			offset := binary.BigEndian.Uint64(word[wordSize-8:])
			if offset > uint64(len(data)) || uint64(len(data))-offset < wordSize {
				return nil, fmt.Errorf("field %d: byte field offset out of range", i)
			}
			length := binary.BigEndian.Uint64(data[offset+wordSize-8 : offset+wordSize])
			start := offset + wordSize
			if length > uint64(len(data))-start {
				return nil, fmt.Errorf("field %d: byte field length out of range", i)
			}
			field := make([]byte, length)
			copy(field, data[start:start+length])
			values[i] = field
		case KindByte:
			values[i] = word[0]
		default:
			return nil, fmt.Errorf("field %d: unknown field kind", i)
		}
	}
	return values, nil
}
