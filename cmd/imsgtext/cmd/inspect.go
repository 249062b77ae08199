package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"howett.net/plist"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/bplist"
	"github.com/wesm/imsgtext/internal/typedstream"
)

var inspectHexArg string

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Show the structure of an attributedBody payload",
	Long: `Show the detected format of a payload and its structure.

Binary plists are decoded in full, with the $objects table of keyed
archives listed by index. Typedstream payloads list every string found
after an NSString token and whether it is archive metadata.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readPayload(inspectHexArg, args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return fmt.Errorf("no payload: pass a file, --hex, or pipe data on stdin")
		}
		return writeInspect(cmd.OutOrStdout(), body)
	},
}

func writeInspect(w io.Writer, body []byte) error {
	format := attrbody.Detect(body)
	fmt.Fprintf(w, "Format: %s (%d bytes)\n", format, len(body))

	switch format {
	case attrbody.FormatBinaryPlist:
		return inspectBinaryPlist(w, body)
	case attrbody.FormatTypedstream:
		return inspectTypedstream(w, body)
	default:
		n := min(len(body), 16)
		fmt.Fprintf(w, "Leading bytes: % x\n", body[:n])
		return nil
	}
}

func inspectBinaryPlist(w io.Writer, body []byte) error {
	doc, err := bplist.Open(body)
	if err != nil {
		fmt.Fprintf(w, "Trailer: %v\n", err)
	} else {
		t := doc.Trailer()
		fmt.Fprintf(w, "Trailer: %d objects, top %d, offset size %d, ref size %d\n",
			t.NumObjects, t.TopObject, t.OffsetIntSize, t.ObjectRefSize)
	}
	if text, ok := attrbody.ExtractBinaryPlist(body); ok {
		fmt.Fprintf(w, "Extracted: %s\n", strconv.Quote(text))
	} else {
		fmt.Fprintln(w, "Extracted: (none)")
	}

	var v interface{}
	if _, err := plist.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("decode plist: %w", err)
	}

	root, ok := v.(map[string]interface{})
	objects, isArchive := root["$objects"].([]interface{})
	if !ok || !isArchive {
		return writeIndented(w, printable(v))
	}

	fmt.Fprintf(w, "Archiver: %v\n", root["$archiver"])
	fmt.Fprintln(w, "Top:")
	if err := writeIndented(w, printable(root["$top"])); err != nil {
		return err
	}
	fmt.Fprintln(w, "Objects:")
	for i, obj := range objects {
		data, err := marshalJSON(printable(obj), "")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  [%d] %s\n", i, data)
	}
	return nil
}

func inspectTypedstream(w io.Writer, body []byte) error {
	candidates := typedstream.Scan(body)
	if text, ok := attrbody.ExtractTypedstream(body); ok {
		fmt.Fprintf(w, "Extracted: %s\n", strconv.Quote(text))
	} else {
		fmt.Fprintln(w, "Extracted: (none)")
	}
	fmt.Fprintf(w, "Candidates: %d\n", len(candidates))
	for _, c := range candidates {
		flag := ""
		if attrbody.IsMetadataToken(c.Text) {
			flag = " [metadata]"
		}
		fmt.Fprintf(w, "  @%d %s %s%s\n", c.Offset, c.Class, strconv.Quote(c.Text), flag)
	}
	return nil
}

func writeIndented(w io.Writer, v interface{}) error {
	data, err := marshalJSON(v, "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "  %s\n", data)
	return err
}

// marshalJSON encodes v without HTML escaping, so placeholders such as
// <data 3 bytes> and message text with & print as they are. An empty
// indent gives one line.
func marshalJSON(v interface{}, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent(indent, "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// printable converts decoded plist values into JSON-friendly ones.
func printable(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = printable(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = printable(e)
		}
		return out
	case plist.UID:
		return fmt.Sprintf("UID(%d)", uint64(x))
	case []byte:
		return fmt.Sprintf("<data %d bytes>", len(x))
	default:
		return x
	}
}

func init() {
	inspectCmd.Flags().StringVar(&inspectHexArg, "hex", "", "payload as a hex string")
	rootCmd.AddCommand(inspectCmd)
}
