package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wesm/imsgtext/internal/attrbody"
)

var (
	decodeHexArg      string
	decodeText        string
	decodeAttachments bool
	decodeReaction    bool
	decodeExplain     bool
	decodeJSON        bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Resolve the text of one message payload",
	Long: `Resolve the display text of a single message.

The attributedBody payload is read from a file, from --hex, or from stdin.
--text, --attachments and --reaction supply the other message fields, so
the full fallback chain can be reproduced.

Examples:
  sqlite3 chat.db "SELECT hex(attributedBody) FROM message WHERE ROWID=42" | xargs imsgtext decode --hex
  imsgtext decode --explain body.bin
  imsgtext decode --attachments --json < body.bin`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readPayload(decodeHexArg, args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		resolver, err := newResolver()
		if err != nil {
			return err
		}
		msg := attrbody.Message{
			Text:           decodeText,
			AttributedBody: body,
			HasAttachments: decodeAttachments,
			IsReaction:     decodeReaction,
		}
		return writeDecode(cmd.OutOrStdout(), resolver, msg, decodeExplain, decodeJSON)
	},
}

// decodeOutput is the --json form of a decode result.
type decodeOutput struct {
	Text   string          `json:"text"`
	Source attrbody.Source `json:"source"`
	Format attrbody.Format `json:"format"`
	Steps  []decodeStep    `json:"steps,omitempty"`
}

type decodeStep struct {
	Tier      string `json:"tier"`
	Format    string `json:"format,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Misread   bool   `json:"misread,omitempty"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

func writeDecode(w io.Writer, r *attrbody.Resolver, msg attrbody.Message, explain, asJSON bool) error {
	var (
		result attrbody.Result
		steps  []attrbody.Step
	)
	if explain {
		result, steps = r.Explain(msg)
	} else {
		result = r.Resolve(msg)
	}
	format := attrbody.Detect(msg.AttributedBody)

	if asJSON {
		out := decodeOutput{Text: result.Text, Source: result.Source, Format: format}
		for _, st := range steps {
			ds := decodeStep{
				Tier:      st.Tier.String(),
				Candidate: st.Candidate,
				Misread:   st.Misread,
				Accepted:  st.Accepted,
				Reason:    st.Reason,
			}
			if st.Tier == attrbody.TierBody {
				ds.Format = st.Format.String()
			}
			out.Steps = append(out.Steps, ds)
		}
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if !explain {
		_, err := fmt.Fprintln(w, result.Text)
		return err
	}

	p := newPainter(w)
	fmt.Fprintf(w, "%s %s (%d bytes)\n", p.render(headerStyle, "Format:"), format, len(msg.AttributedBody))
	for i, st := range steps {
		status := p.render(rejectedStyle, "skip")
		if st.Accepted {
			status = p.render(acceptedStyle, "ok  ")
		}
		line := fmt.Sprintf("  %d. %s %-16s", i+1, status, st.Tier)
		if st.Tier == attrbody.TierBody {
			line += " " + st.Format.String()
		}
		if st.Candidate != "" {
			line += " candidate=" + strconv.Quote(st.Candidate)
		}
		if st.Misread {
			line += " misread"
		}
		if st.Reason != "" {
			line += " " + p.render(faintStyle, "("+st.Reason+")")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s %s\n", p.render(headerStyle, "Source:"), result.Source)
	_, err := fmt.Fprintf(w, "%s %s\n", p.render(headerStyle, "Text:  "), result.Text)
	return err
}

func init() {
	decodeCmd.Flags().StringVar(&decodeHexArg, "hex", "", "payload as a hex string")
	decodeCmd.Flags().StringVar(&decodeText, "text", "", "plain-text column value")
	decodeCmd.Flags().BoolVar(&decodeAttachments, "attachments", false, "message has attachments")
	decodeCmd.Flags().BoolVar(&decodeReaction, "reaction", false, "message is a reaction")
	decodeCmd.Flags().BoolVar(&decodeExplain, "explain", false, "show every resolution step")
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(decodeCmd)
}
