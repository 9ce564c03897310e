// Package codec implements CrabCache's wire protocol: a line-oriented text
// dialect and a length-prefixed binary dialect, both decoded into the same
// Command representation (spec §4.1). Decode is stateless and reentrant;
// a connection commits to one dialect after its first complete frame, a
// decision the caller (internal/server) tracks, not this package.
package codec

import "errors"

// Kind identifies a parsed command.
type Kind int

const (
	KindPing Kind = iota
	KindPut
	KindGet
	KindDel
	KindExpire
	KindStats
)

// Command is one decoded request, dialect-agnostic.
type Command struct {
	Kind Kind
	Key  []byte
	// Value holds PUT's payload.
	Value []byte
	// TTLSeconds is PUT/EXPIRE's relative TTL; 0 means no TTL for PUT, and
	// clears any existing TTL for EXPIRE.
	TTLSeconds uint32

	// Err is set when the frame this Command came from was malformed
	// (spec §4.1: "malformed frame -> ERROR: <reason>... parsing resumes
	// at the next frame boundary"). The executor emits an ERROR response
	// for this command and does not route it to a shard.
	Err error
}

// ResponseKind identifies an encoded response.
type ResponseKind int

const (
	RespOK ResponseKind = iota
	RespPong
	RespNull
	RespValue
	RespStats
	RespError
)

// Response is one outgoing reply, dialect-agnostic.
type Response struct {
	Kind  ResponseKind
	Value []byte
	// Message carries ERROR's reason text or STATS' payload text.
	Message string
}

// Dialect identifies which wire format a connection has committed to.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectText
	DialectBinary
)

// ErrProtocol marks a frame so malformed the connection must be closed
// (spec §4.1: "unrecoverable corruption... the connection is closed"),
// as opposed to a single bad command that gets an ERROR response while
// the connection stays open.
var ErrProtocol = errors.New("codec: protocol violation")

// Limits bounds what Decode will accept, rejecting a frame that could
// otherwise be used to exhaust memory before a complete command is ever
// parsed (spec §4.1 text-dialect line bound, §6 max_key_len/max_value_len).
type Limits struct {
	MaxKeyLen   int
	MaxValueLen int
}

// frameOverhead is slack added to MaxKeyLen+MaxValueLen when bounding a raw
// line/frame length, covering the command word, separators, and TTL digits.
const frameOverhead = 64

// DetectDialect inspects the first byte of a fresh connection's stream to
// decide which dialect it speaks (spec §4.1: "values >= 0x20 (printable
// ASCII) indicate text; known binary opcodes indicate binary").
func DetectDialect(first byte) Dialect {
	if first >= 0x20 {
		return DialectText
	}
	switch first {
	case opPing, opPut, opGet, opDel, opStats:
		return DialectBinary
	default:
		return DialectUnknown
	}
}

// Decode parses as many complete commands as buf contains for the given
// dialect, returning the commands and how many leading bytes of buf they
// consumed. The caller passes the unconsumed remainder back in on the next
// read (spec §4.1's decode(buffer) -> (commands[], consumed_bytes)).
func Decode(dialect Dialect, buf []byte, limits Limits) (cmds []Command, consumed int, err error) {
	switch dialect {
	case DialectText:
		return decodeText(buf, limits)
	case DialectBinary:
		return decodeBinary(buf, limits)
	default:
		return nil, 0, ErrProtocol
	}
}

// Encode serializes resp for the given dialect.
func Encode(dialect Dialect, resp Response) []byte {
	switch dialect {
	case DialectBinary:
		return encodeBinary(resp)
	default:
		return encodeText(resp)
	}
}
