package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// maxPayloadBytes bounds payloads read from files or stdin.
const maxPayloadBytes = 64 << 20

// readPayload returns the attributedBody bytes named by the arguments: a
// --hex string, a file path, or stdin when the path is "-" or absent and
// stdin is not a terminal. It returns nil when there is no payload.
func readPayload(hexArg string, args []string, stdin io.Reader) ([]byte, error) {
	if hexArg != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("use either --hex or a file argument, not both")
		}
		return decodeHex(hexArg)
	}

	if len(args) > 0 && args[0] != "-" {
		info, err := os.Stat(args[0])
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		if info.Size() > maxPayloadBytes {
			return nil, fmt.Errorf("payload %s is %d bytes, limit is %d", args[0], info.Size(), maxPayloadBytes)
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	}

	if len(args) == 0 && isTerminal(stdin) {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(data) > maxPayloadBytes {
		return nil, fmt.Errorf("stdin payload exceeds %d bytes", maxPayloadBytes)
	}
	return data, nil
}

// decodeHex accepts hex with optional 0x prefix and whitespace, as
// copied from sqlite3 X'...' literals or hexdump output.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if strings.HasPrefix(s, "X'") || strings.HasPrefix(s, "x'") {
		s = strings.TrimSuffix(s[2:], "'")
	}
	s = strings.Join(strings.Fields(s), "")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode --hex: %w", err)
	}
	return data, nil
}

// isTerminal reports whether v is a terminal file.
func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
