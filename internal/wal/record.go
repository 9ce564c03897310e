// Package wal implements CrabCache's write-ahead log: a framed, checksummed,
// segmented append log that every mutation passes through before it is
// applied to the shard index (spec §4.5). Record encoding is grounded on
// Scarage1-FlashDB's internal/wal/wal.go (little-endian fixed header, CRC32
// trailer computed over the body, pooled-buffer batch encoding), generalized
// to carry an lsn field and segmented across multiple files.
package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Op identifies the mutation a record represents.
type Op byte

const (
	OpSet Op = iota + 1
	OpDelete
	// OpExpire updates an existing key's TTL without touching its value
	// (text dialect's EXPIRE, spec §4.1); Value is unused for this op.
	OpExpire
)

// headerSize is the combined width of a record's fixed-width fields:
// lsn(8) + timestamp_ms(8) + op(1) + key_len(4) + value_len(4) +
// ttl_ms_or_sentinel(8) = 33 bytes. On disk the key follows key_len, the
// value follows value_len, and the CRC32 trailer comes last.
const headerSize = 33

// trailerSize is the CRC32 checksum appended after key+value.
const trailerSize = 4

// ErrCorruptRecord marks a CRC mismatch or a record whose length fields
// don't fit the remaining bytes — the recovery truncation point (spec §4.5:
// "a record with a bad CRC marks the end of valid log").
var ErrCorruptRecord = errors.New("wal: corrupt record")

// Record is one WAL entry: a mutation plus the metadata needed to replay or
// skip it deterministically on recovery (spec §3's WAL record fields).
type Record struct {
	LSN         uint64
	TimestampMS int64
	Op          Op
	Key         []byte
	Value       []byte
	// ExpiresAtMS is the absolute deadline already computed at append time
	// (0 means no TTL); the WAL never stores the client-supplied relative
	// TTL, only the resolved absolute one, so replay needs no clock.
	ExpiresAtMS int64
}

// EncodedLen returns the on-disk size of rec.
func (rec Record) EncodedLen() int {
	return headerSize + len(rec.Key) + len(rec.Value) + trailerSize
}

// AppendEncoded appends rec's encoded bytes to dst and returns the grown
// slice, mirroring FlashDB's appendEncodedRecord pooled-buffer pattern so a
// batch of records can be assembled with a single underlying allocation.
func AppendEncoded(dst []byte, rec Record) []byte {
	off := len(dst)
	total := rec.EncodedLen()
	if cap(dst)-off < total {
		grown := make([]byte, off, off+total+512)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:off+total]
	body := dst[off : off+total-trailerSize]

	binary.LittleEndian.PutUint64(body[0:8], rec.LSN)
	binary.LittleEndian.PutUint64(body[8:16], uint64(rec.TimestampMS))
	body[16] = byte(rec.Op)
	binary.LittleEndian.PutUint32(body[17:21], uint32(len(rec.Key)))
	copy(body[21:21+len(rec.Key)], rec.Key)
	valOff := 21 + len(rec.Key)
	binary.LittleEndian.PutUint32(body[valOff:valOff+4], uint32(len(rec.Value)))
	copy(body[valOff+4:valOff+4+len(rec.Value)], rec.Value)
	ttlOff := valOff + 4 + len(rec.Value)
	binary.LittleEndian.PutUint64(body[ttlOff:ttlOff+8], uint64(rec.ExpiresAtMS))

	crc := crc32.ChecksumIEEE(body)
	binary.LittleEndian.PutUint32(dst[off+total-trailerSize:off+total], crc)
	return dst
}

// Encode is a convenience wrapper around AppendEncoded for a single record.
func Encode(rec Record) []byte {
	return AppendEncoded(nil, rec)
}

// ReadRecord reads one record from r, returning ErrCorruptRecord on a CRC
// mismatch or malformed length field, and io.EOF when r runs out of bytes:
// with n == 0 at a record boundary, with n > 0 when the record is cut short.
func ReadRecord(r io.Reader) (Record, int, error) {
	// lsn(8) + timestamp_ms(8) + op(1) + key_len(4) precede the key.
	header := make([]byte, 21)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, n, io.EOF
		}
		return Record{}, n, err
	}

	lsn := binary.LittleEndian.Uint64(header[0:8])
	ts := int64(binary.LittleEndian.Uint64(header[8:16]))
	op := Op(header[16])
	keyLen := binary.LittleEndian.Uint32(header[17:21])

	// Sanity bounds guard against a torn write being misread as an
	// enormous length and attempting to allocate gigabytes.
	if keyLen > 1<<20 {
		return Record{}, n, ErrCorruptRecord
	}
	keyAndValueLenBuf := make([]byte, keyLen+4)
	read, err := io.ReadFull(r, keyAndValueLenBuf)
	n += read
	if err != nil {
		return Record{}, n, corruptOrEOF(err)
	}
	key := keyAndValueLenBuf[:keyLen]
	valueLen := binary.LittleEndian.Uint32(keyAndValueLenBuf[keyLen : keyLen+4])
	if valueLen > 1<<30 {
		return Record{}, n, ErrCorruptRecord
	}

	rest := make([]byte, valueLen+8+trailerSize)
	read, err = io.ReadFull(r, rest)
	n += read
	if err != nil {
		return Record{}, n, corruptOrEOF(err)
	}
	value := rest[:valueLen]
	expiresAtMS := int64(binary.LittleEndian.Uint64(rest[valueLen : valueLen+8]))
	storedCRC := binary.LittleEndian.Uint32(rest[valueLen+8 : valueLen+8+trailerSize])

	body := make([]byte, 0, headerSize+int(keyLen)+int(valueLen))
	body = append(body, header...)
	body = append(body, key...)
	body = append(body, keyAndValueLenBuf[keyLen:keyLen+4]...)
	body = append(body, value...)
	body = append(body, rest[valueLen:valueLen+8]...)

	if crc32.ChecksumIEEE(body) != storedCRC {
		return Record{}, n, ErrCorruptRecord
	}

	return Record{
		LSN:         lsn,
		TimestampMS: ts,
		Op:          op,
		Key:         key,
		Value:       value,
		ExpiresAtMS: expiresAtMS,
	}, n, nil
}

func corruptOrEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
