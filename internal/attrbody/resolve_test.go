package attrbody

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/imsgtext/internal/testutil"
)

// garbagePlist is a keyed archive whose string decodes into CJK text, the
// way a body read with the wrong string encoding does.
func garbagePlist(t testing.TB) []byte {
	return testutil.AttributedStringArchive(t, testutil.GarbageUTF16("Hello there, see you soon"))
}

func TestResolve_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want Result
	}{
		{
			name: "plain text",
			msg:  Message{Text: "Hi there"},
			want: Result{Text: "Hi there", Source: SourcePlainText},
		},
		{
			name: "binary plist",
			msg: Message{AttributedBody: testutil.BinaryPlist(t, map[string]interface{}{
				"NS.string": "Hello, world!",
			})},
			want: Result{Text: "Hello, world!", Source: SourceBinaryPlist},
		},
		{
			name: "typedstream",
			msg:  Message{AttributedBody: testutil.MinimalTypedstream("Hello, world!")},
			want: Result{Text: "Hello, world!", Source: SourceTypedstream},
		},
		{
			name: "attachment without body",
			msg:  Message{HasAttachments: true},
			want: Result{Text: AttachmentPlaceholder, Source: SourceAttachment},
		},
		{
			name: "unrecognized body",
			msg:  Message{AttributedBody: []byte{0x01, 0x02, 0x03, 0x04}},
			want: Result{Text: UnparseablePlaceholder, Source: SourceUnparseable},
		},
		{
			name: "garbage body",
			msg:  Message{AttributedBody: garbagePlist(t)},
			want: Result{Text: UnparseablePlaceholder, Source: SourceUnparseable},
		},
		{
			name: "reaction",
			msg:  Message{IsReaction: true},
			want: Result{Text: ReactionPlaceholder, Source: SourceReaction},
		},
		{
			name: "attachment wins over reaction",
			msg:  Message{HasAttachments: true, IsReaction: true},
			want: Result{Text: AttachmentPlaceholder, Source: SourceAttachment},
		},
		{
			name: "failed body falls to attachment",
			msg:  Message{AttributedBody: garbagePlist(t), HasAttachments: true},
			want: Result{Text: AttachmentPlaceholder, Source: SourceAttachment},
		},
		{
			name: "whitespace text is absent",
			msg:  Message{Text: " \n ", AttributedBody: testutil.TypedstreamBody("from body")},
			want: Result{Text: "from body", Source: SourceTypedstream},
		},
		{
			name: "body text is cleaned",
			msg:  Message{AttributedBody: testutil.AttributedStringArchive(t, "photo\ufffc  looks   great ")},
			want: Result{Text: "photo looks great", Source: SourceBinaryPlist},
		},
		{
			name: "empty record",
			msg:  Message{},
			want: Result{Text: UnparseablePlaceholder, Source: SourceUnparseable},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.msg)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_PlainTextWins(t *testing.T) {
	msg := Message{
		Text:           "typed text",
		AttributedBody: testutil.AttributedStringArchive(t, "different body text"),
		HasAttachments: true,
	}
	got, steps := defaultResolver.Explain(msg)
	if got.Text != "typed text" || got.Source != SourcePlainText {
		t.Errorf("Resolve = %+v", got)
	}
	if len(steps) != 1 || steps[0].Tier != TierPlainText {
		t.Errorf("body consulted: steps = %+v", steps)
	}
}

func TestResolve_GarbageNeverLeaks(t *testing.T) {
	phrases := []string{"Hello there", "ok see you at 5", "Where are you?", "lol"}
	for _, p := range phrases {
		for _, body := range [][]byte{
			testutil.AttributedStringArchive(t, testutil.GarbageUTF16(p)),
			testutil.BinaryPlist(t, map[string]interface{}{"NS.string": testutil.GarbageUTF16(p)}),
		} {
			got := Resolve(Message{AttributedBody: body})
			for _, r := range got.Text {
				if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
					t.Errorf("Resolve(garbage %q) leaked %q", p, got.Text)
					break
				}
			}
			if got.Source != SourceUnparseable {
				t.Errorf("Resolve(garbage %q).Source = %v, want %v", p, got.Source, SourceUnparseable)
			}
		}
	}
}

func TestResolve_NonLatinText(t *testing.T) {
	texts := []string{
		"Привет, как дела?",
		"Γεια σου φίλε",
		"שלום מה שלומך",
		"こんにちは、元気？",
		"مرحبا كيف حالك",
		"好的",
	}
	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			tests := []struct {
				body []byte
				want Source
			}{
				{testutil.AttributedStringArchive(t, text), SourceBinaryPlist},
				{testutil.TypedstreamBody(text), SourceTypedstream},
			}
			for _, tt := range tests {
				want := Result{Text: text, Source: tt.want}
				if got := Resolve(Message{AttributedBody: tt.body}); got != want {
					t.Errorf("Resolve = %+v, want %+v", got, want)
				}
			}
		})
	}
}

func TestResolve_LegacyBytesInTypedstream(t *testing.T) {
	// Windows-1251 "Привет" is not UTF-8; the repaired payload is all
	// replacement characters and must not be shown.
	cp1251 := string([]byte{0xcf, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2})
	got := Resolve(Message{AttributedBody: testutil.TypedstreamBody(cp1251)})
	if got.Source != SourceUnparseable {
		t.Errorf("Resolve = %+v, want unparseable fallback", got)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	msgs := []Message{
		{AttributedBody: testutil.AttributedStringArchive(t, "same every time")},
		{AttributedBody: testutil.TypedstreamBody("same every time")},
		{AttributedBody: garbagePlist(t), IsReaction: true},
	}
	want := make([]Result, len(msgs))
	for i, m := range msgs {
		want[i] = Resolve(m)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, m := range msgs {
				if got := Resolve(m); got != want[i] {
					t.Errorf("Resolve(msg %d) = %+v, want %+v", i, got, want[i])
				}
			}
		}()
	}
	wg.Wait()
}

func TestResolve_BodyNotMutated(t *testing.T) {
	body := testutil.TypedstreamBody("leave me alone")
	orig := append([]byte(nil), body...)
	Resolve(Message{AttributedBody: body})
	if diff := cmp.Diff(orig, body); diff != "" {
		t.Errorf("body mutated (-want +got):\n%s", diff)
	}
}

func TestResolver_Policy(t *testing.T) {
	p := DefaultPolicy()
	p.ExpectedScripts = []string{"Latin", "Han"}
	r, err := NewResolver(p)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	misread := testutil.GarbageUTF16("Hello there")
	msg := Message{AttributedBody: testutil.AttributedStringArchive(t, misread)}
	if got := r.Resolve(msg); got.Source != SourceBinaryPlist || got.Text != misread {
		t.Errorf("Resolve with Han allowed = %+v", got)
	}
	if got := Resolve(msg); got.Source != SourceUnparseable {
		t.Errorf("Resolve with default policy = %+v", got)
	}

	p.MaxForeignRatio = 3
	if _, err := NewResolver(p); err == nil {
		t.Error("NewResolver accepted an invalid policy")
	}
}

func TestResolver_Explain(t *testing.T) {
	got, steps := defaultResolver.Explain(Message{AttributedBody: garbagePlist(t)})
	if got.Source != SourceUnparseable {
		t.Fatalf("Explain result = %+v", got)
	}
	if len(steps) != 3 {
		t.Fatalf("steps = %+v, want 3", steps)
	}
	body := steps[1]
	if body.Tier != TierBody || body.Format != FormatBinaryPlist || body.Accepted {
		t.Errorf("body step = %+v", body)
	}
	if body.Candidate == "" || !body.Misread || !strings.Contains(body.Reason, "implausible") {
		t.Errorf("body step missing candidate or reason: %+v", body)
	}
	if last := steps[len(steps)-1]; last.Tier != TierUnparseable || !last.Accepted {
		t.Errorf("last step = %+v", last)
	}

	res, steps := defaultResolver.Explain(Message{AttributedBody: testutil.MinimalTypedstream("ok then")})
	want := []Step{
		{Tier: TierPlainText, Reason: "text empty"},
		{Tier: TierBody, Format: FormatTypedstream, Candidate: "ok then", Accepted: true},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	if res != Resolve(Message{AttributedBody: testutil.MinimalTypedstream("ok then")}) {
		t.Errorf("Explain and Resolve disagree: %+v", res)
	}
}

func TestResult_JSON(t *testing.T) {
	data, err := json.Marshal(Result{Text: "hi", Source: SourceReaction})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"text":"hi","source":"reaction_fallback"}` {
		t.Errorf("Marshal = %s", data)
	}

	for _, s := range Sources() {
		got, err := ParseSource(s.String())
		if err != nil || got != s {
			t.Errorf("ParseSource(%q) = (%v, %v)", s.String(), got, err)
		}
	}
	if _, err := ParseSource("bogus"); err == nil {
		t.Error("ParseSource(bogus) succeeded")
	}
}

func TestSource_IsFallback(t *testing.T) {
	for _, s := range Sources() {
		want := s == SourceAttachment || s == SourceReaction || s == SourceUnparseable
		if got := s.IsFallback(); got != want {
			t.Errorf("%v.IsFallback() = %v", s, got)
		}
	}
}

func FuzzResolve(f *testing.F) {
	f.Add("", testutil.AttributedStringArchive(f, "Hello"), false, false)
	f.Add("", testutil.TypedstreamBody("Hello"), true, false)
	f.Add("text", []byte{}, false, true)
	f.Fuzz(func(t *testing.T, text string, body []byte, attachments, reaction bool) {
		got := Resolve(Message{Text: text, AttributedBody: body, HasAttachments: attachments, IsReaction: reaction})
		if got.Text == "" {
			t.Fatal("empty result text")
		}
		if got.Source == SourcePlainText && got.Text != text {
			t.Fatalf("plain text altered: %q -> %q", text, got.Text)
		}
	})
}
