package codec

import (
	"encoding/binary"
	"fmt"
)

// Binary dialect opcodes (spec §4.1). 0x05 is deliberately unassigned:
// the binary dialect does not expose EXPIRE, only the text dialect does.
const (
	opPing  byte = 0x01
	opPut   byte = 0x02
	opGet   byte = 0x03
	opDel   byte = 0x04
	opStats byte = 0x06
)

const (
	respOpOK    byte = 0x10
	respOpPong  byte = 0x11
	respOpNull  byte = 0x12
	respOpError byte = 0x13
	respOpValue byte = 0x14
	respOpStats byte = 0x15
)

// lenPrefixSize is the width of every length-prefixed argument's header,
// per spec §4.1: "op_byte || (len_u32_le || bytes)*".
const lenPrefixSize = 4

// decodeBinary parses as many complete frames as buf holds, grounded on
// armandParser-gofast-server's protocol.go length-prefixed field reader
// generalized from that reference's big-endian, many-opcode protocol to
// CrabCache's little-endian five-opcode one.
func decodeBinary(buf []byte, limits Limits) ([]Command, int, error) {
	var cmds []Command
	consumed := 0

	for {
		rest := buf[consumed:]
		if len(rest) < 1 {
			break
		}
		op := rest[0]

		switch op {
		case opPing:
			cmds = append(cmds, Command{Kind: KindPing})
			consumed++

		case opStats:
			cmds = append(cmds, Command{Kind: KindStats})
			consumed++

		case opGet, opDel:
			key, n, ok, err := readField(rest[1:], limits.MaxKeyLen)
			if err != nil {
				return cmds, consumed, err
			}
			if !ok {
				return cmds, consumed, nil // incomplete frame, wait for more
			}
			kind := KindGet
			if op == opDel {
				kind = KindDel
			}
			cmds = append(cmds, Command{Kind: kind, Key: key})
			consumed += 1 + n

		case opPut:
			cursor := rest[1:]
			key, n1, ok, err := readField(cursor, limits.MaxKeyLen)
			if err != nil {
				return cmds, consumed, err
			}
			if !ok {
				return cmds, consumed, nil
			}
			cursor = cursor[n1:]

			value, n2, ok, err := readField(cursor, limits.MaxValueLen)
			if err != nil {
				return cmds, consumed, err
			}
			if !ok {
				return cmds, consumed, nil
			}
			cursor = cursor[n2:]

			if len(cursor) < 1 {
				return cmds, consumed, nil
			}
			ttlByte := cursor[0]
			frameLen := 1 + n1 + n2 + 1

			var ttl uint32
			if ttlByte != 0 {
				if len(cursor) < 5 {
					return cmds, consumed, nil
				}
				ttl = binary.LittleEndian.Uint32(cursor[1:5])
				frameLen += 4
			}

			cmds = append(cmds, Command{Kind: KindPut, Key: key, Value: value, TTLSeconds: ttl})
			consumed += frameLen

		default:
			// An opcode outside the known set is unrecoverable: the
			// length-prefixed framing gives no way to resynchronize.
			return cmds, consumed, ErrProtocol
		}
	}
	return cmds, consumed, nil
}

// readField reads one len_u32_le||bytes argument from buf. ok is false if
// buf doesn't yet hold a complete field (caller should wait for more
// data); err is non-nil if the declared length is unrecoverable (exceeds
// maxLen, spec's "binary length overflow, oversized key").
func readField(buf []byte, maxLen int) (field []byte, n int, ok bool, err error) {
	if len(buf) < lenPrefixSize {
		return nil, 0, false, nil
	}
	length := binary.LittleEndian.Uint32(buf[:lenPrefixSize])
	if int(length) > maxLen {
		return nil, 0, false, fmt.Errorf("%w: field length %d exceeds limit %d", ErrProtocol, length, maxLen)
	}
	total := lenPrefixSize + int(length)
	if len(buf) < total {
		return nil, 0, false, nil
	}
	return buf[lenPrefixSize:total], total, true, nil
}

// encodeBinary renders resp in the binary dialect.
func encodeBinary(resp Response) []byte {
	switch resp.Kind {
	case RespOK:
		return []byte{respOpOK}
	case RespPong:
		return []byte{respOpPong}
	case RespNull:
		return []byte{respOpNull}
	case RespValue:
		return appendBinaryField([]byte{respOpValue}, resp.Value)
	case RespStats:
		return appendBinaryField([]byte{respOpStats}, []byte(resp.Message))
	case RespError:
		return appendBinaryField([]byte{respOpError}, []byte(resp.Message))
	default:
		return appendBinaryField([]byte{respOpError}, []byte("internal"))
	}
}

func appendBinaryField(dst, field []byte) []byte {
	lenBuf := make([]byte, lenPrefixSize)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(field)))
	dst = append(dst, lenBuf...)
	dst = append(dst, field...)
	return dst
}
