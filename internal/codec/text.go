package codec

import (
	"bytes"
	"fmt"
	"strconv"
)

// decodeText scans buf for complete `\n`-terminated (optionally `\r\n`)
// lines, parsing each independently so one malformed line never blocks
// the ones after it (grounded on Bug-Finderr-hld-key-value-cache's main.go
// line-oriented scanner, generalized to return a contiguous batch instead
// of handling one line at a time).
func decodeText(buf []byte, limits Limits) ([]Command, int, error) {
	maxLine := limits.MaxKeyLen + limits.MaxValueLen + frameOverhead

	var cmds []Command
	consumed := 0
	for {
		rest := buf[consumed:]
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			if len(rest) > maxLine {
				// No line boundary found within the bound: a client is
				// either sending garbage or something far larger than any
				// valid command could be. Unrecoverable per spec §4.1.
				return cmds, consumed, ErrProtocol
			}
			break
		}
		line := rest[:idx]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		consumed += idx + 1

		if len(line) > maxLine {
			return cmds, consumed, ErrProtocol
		}
		cmds = append(cmds, parseTextLine(line, limits))
	}
	return cmds, consumed, nil
}

func parseTextLine(line []byte, limits Limits) Command {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return Command{Err: fmt.Errorf("codec: empty command")}
	}

	switch string(fields[0]) {
	case "PING":
		if len(fields) != 1 {
			return Command{Err: fmt.Errorf("codec: PING takes no arguments")}
		}
		return Command{Kind: KindPing}

	case "GET":
		if len(fields) != 2 {
			return Command{Err: fmt.Errorf("codec: GET requires exactly one key")}
		}
		return withKeyLimit(Command{Kind: KindGet, Key: fields[1]}, limits)

	case "DEL":
		if len(fields) != 2 {
			return Command{Err: fmt.Errorf("codec: DEL requires exactly one key")}
		}
		return withKeyLimit(Command{Kind: KindDel, Key: fields[1]}, limits)

	case "STATS":
		if len(fields) != 1 {
			return Command{Err: fmt.Errorf("codec: STATS takes no arguments")}
		}
		return Command{Kind: KindStats}

	case "PUT":
		if len(fields) < 3 || len(fields) > 4 {
			return Command{Err: fmt.Errorf("codec: PUT requires key, value, and an optional ttl_secs")}
		}
		cmd := Command{Kind: KindPut, Key: fields[1], Value: fields[2]}
		if len(fields) == 4 {
			ttl, err := strconv.ParseUint(string(fields[3]), 10, 32)
			if err != nil {
				return Command{Err: fmt.Errorf("codec: invalid ttl_secs %q: %w", fields[3], err)}
			}
			cmd.TTLSeconds = uint32(ttl)
		}
		return withValueLimit(withKeyLimit(cmd, limits), limits)

	case "EXPIRE":
		if len(fields) != 3 {
			return Command{Err: fmt.Errorf("codec: EXPIRE requires a key and a ttl_secs")}
		}
		ttl, err := strconv.ParseUint(string(fields[2]), 10, 32)
		if err != nil {
			return Command{Err: fmt.Errorf("codec: invalid ttl_secs %q: %w", fields[2], err)}
		}
		return withKeyLimit(Command{Kind: KindExpire, Key: fields[1], TTLSeconds: uint32(ttl)}, limits)

	default:
		return Command{Err: fmt.Errorf("codec: unknown command %q", fields[0])}
	}
}

func withKeyLimit(cmd Command, limits Limits) Command {
	if cmd.Err == nil && len(cmd.Key) > limits.MaxKeyLen {
		cmd.Err = fmt.Errorf("codec: key exceeds max_key_len (%d)", limits.MaxKeyLen)
	}
	return cmd
}

func withValueLimit(cmd Command, limits Limits) Command {
	if cmd.Err == nil && len(cmd.Value) > limits.MaxValueLen {
		cmd.Err = fmt.Errorf("codec: value exceeds max_value_len (%d)", limits.MaxValueLen)
	}
	return cmd
}

// encodeText renders resp as one line, always terminated by "\n".
func encodeText(resp Response) []byte {
	switch resp.Kind {
	case RespOK:
		return []byte("OK\n")
	case RespPong:
		return []byte("PONG\n")
	case RespNull:
		return []byte("NULL\n")
	case RespValue:
		out := make([]byte, 0, len(resp.Value)+1)
		out = append(out, resp.Value...)
		out = append(out, '\n')
		return out
	case RespStats:
		return []byte("STATS: " + resp.Message + "\n")
	case RespError:
		return []byte("ERROR: " + resp.Message + "\n")
	default:
		return []byte("ERROR: internal\n")
	}
}
