package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wesm/imsgtext/internal/store"
	"github.com/wesm/imsgtext/internal/textutil"
)

var statsRecent int

// previewWidth is the display width of text previews in --recent output.
const previewWidth = 60

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long: `Show how many messages have been imported and how their text was
obtained. --recent lists the newest stored messages.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database: %s\n", s.Path())
		writeStats(out, stats)

		if statsRecent <= 0 {
			return nil
		}
		texts, err := s.RecentMessageTexts(statsRecent)
		if err != nil {
			return fmt.Errorf("recent messages: %w", err)
		}
		writeRecent(out, texts)
		return nil
	},
}

func writeStats(w io.Writer, stats *store.Stats) {
	fmt.Fprintf(w, "  Sources:     %d\n", stats.SourceCount)
	fmt.Fprintf(w, "  Messages:    %d\n", stats.MessageCount)
	fmt.Fprintf(w, "  Imports:     %d\n", stats.RunCount)
	fmt.Fprintf(w, "  Size:        %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))

	if len(stats.BySource) == 0 {
		return
	}
	tags := make([]string, 0, len(stats.BySource))
	for tag := range stats.BySource {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if stats.BySource[tags[i]] != stats.BySource[tags[j]] {
			return stats.BySource[tags[i]] > stats.BySource[tags[j]]
		}
		return tags[i] < tags[j]
	})
	fmt.Fprintln(w, "  By source:")
	for _, tag := range tags {
		pct := 0.0
		if stats.MessageCount > 0 {
			pct = 100 * float64(stats.BySource[tag]) / float64(stats.MessageCount)
		}
		fmt.Fprintf(w, "    %-22s %8d  %5.1f%%\n", tag, stats.BySource[tag], pct)
	}
}

func writeRecent(w io.Writer, texts []store.MessageText) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Recent messages (%d):\n", len(texts))
	for _, t := range texts {
		when := "unknown"
		if !t.SentAt.IsZero() {
			when = t.SentAt.Local().Format("2006-01-02 15:04")
		}
		who := t.Sender
		if t.IsFromMe {
			who = "me"
		}
		preview := textutil.TruncateWidth(textutil.SingleLine(t.Text), previewWidth)
		fmt.Fprintf(w, "  %-16s %-16s %-20s %s\n", when, textutil.TruncateWidth(who, 16), t.TextSource, preview)
	}
}

func init() {
	statsCmd.Flags().IntVar(&statsRecent, "recent", 0, "list the newest N messages")
	rootCmd.AddCommand(statsCmd)
}
