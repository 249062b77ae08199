package attrbody

import (
	"fmt"
	"strings"
)

// Placeholders returned when no text can be recovered. Consumers compare
// against these values, so they must not change.
const (
	AttachmentPlaceholder  = "[Attachment]"
	ReactionPlaceholder    = "[Reaction]"
	UnparseablePlaceholder = "[Unable to parse message]"
)

// Message is the part of a message record the resolver reads.
// An empty Text and an empty AttributedBody both mean absent.
type Message struct {
	Text           string
	AttributedBody []byte
	HasAttachments bool
	IsReaction     bool
}

// Source tells how a Result's text was obtained.
type Source int

const (
	SourcePlainText Source = iota
	SourceBinaryPlist
	SourceTypedstream
	SourceAttachment
	SourceReaction
	SourceUnparseable
)

var sourceNames = map[Source]string{
	SourcePlainText:   "plain_text",
	SourceBinaryPlist: "binary_plist",
	SourceTypedstream: "typedstream",
	SourceAttachment:  "attachment_fallback",
	SourceReaction:    "reaction_fallback",
	SourceUnparseable: "unparseable_fallback",
}

// Sources lists every Source in declaration order.
func Sources() []Source {
	return []Source{
		SourcePlainText, SourceBinaryPlist, SourceTypedstream,
		SourceAttachment, SourceReaction, SourceUnparseable,
	}
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// IsFallback reports whether the text is a placeholder rather than
// recovered content.
func (s Source) IsFallback() bool {
	return s == SourceAttachment || s == SourceReaction || s == SourceUnparseable
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	if _, ok := sourceNames[s]; !ok {
		return nil, fmt.Errorf("attrbody: invalid source %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(text []byte) error {
	v, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSource returns the Source with the given name.
func ParseSource(name string) (Source, error) {
	for k, v := range sourceNames {
		if v == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("attrbody: unknown source %q", name)
}

// Result is the resolved text of a message. Text is never empty.
type Result struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// Tier is a stage of the resolution chain.
type Tier int

const (
	TierPlainText Tier = iota
	TierBody
	TierAttachment
	TierReaction
	TierUnparseable
)

func (t Tier) String() string {
	switch t {
	case TierPlainText:
		return "plain_text"
	case TierBody:
		return "attributed_body"
	case TierAttachment:
		return "attachment"
	case TierReaction:
		return "reaction"
	case TierUnparseable:
		return "unparseable"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Step records what one tier did during Explain.
type Step struct {
	Tier      Tier
	Format    Format // TierBody only
	Candidate string // raw extracted string, TierBody only
	Misread   bool   // candidate bytes show a wrong decode, TierBody only
	Accepted  bool
	Reason    string // why the tier passed, empty when accepted
}

// Resolver applies the resolution chain under a fixed cleaning policy.
// It is immutable and safe for concurrent use.
type Resolver struct {
	checker *checker
}

// NewResolver returns a resolver using p, or an error when p is invalid.
func NewResolver(p Policy) (*Resolver, error) {
	c, err := newChecker(p)
	if err != nil {
		return nil, err
	}
	return &Resolver{checker: c}, nil
}

// Policy returns the resolver's cleaning policy.
func (r *Resolver) Policy() Policy {
	return r.checker.policy
}

var defaultResolver = func() *Resolver {
	r, err := NewResolver(DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return r
}()

// Resolve resolves m with DefaultPolicy.
func Resolve(m Message) Result {
	return defaultResolver.Resolve(m)
}

// Resolve returns the text for m. Tiers are tried in order and the first
// that produces text wins: the plain-text field, the attributedBody
// payload, then the attachment, reaction and unparseable placeholders.
func (r *Resolver) Resolve(m Message) Result {
	return r.resolve(m, nil)
}

// Explain resolves m like Resolve and also returns a trace of every tier
// that ran.
func (r *Resolver) Explain(m Message) (Result, []Step) {
	var steps []Step
	res := r.resolve(m, &steps)
	return res, steps
}

func (r *Resolver) resolve(m Message, trace *[]Step) Result {
	record := func(s Step) {
		if trace != nil {
			*trace = append(*trace, s)
		}
	}

	if strings.TrimSpace(m.Text) != "" {
		record(Step{Tier: TierPlainText, Accepted: true})
		return Result{Text: m.Text, Source: SourcePlainText}
	}
	record(Step{Tier: TierPlainText, Reason: "text empty"})

	if len(m.AttributedBody) > 0 {
		text, source, step := r.fromBody(m.AttributedBody)
		record(step)
		if step.Accepted {
			return Result{Text: text, Source: source}
		}
	}

	if m.HasAttachments {
		record(Step{Tier: TierAttachment, Accepted: true})
		return Result{Text: AttachmentPlaceholder, Source: SourceAttachment}
	}
	if m.IsReaction {
		record(Step{Tier: TierReaction, Accepted: true})
		return Result{Text: ReactionPlaceholder, Source: SourceReaction}
	}
	record(Step{Tier: TierUnparseable, Accepted: true})
	return Result{Text: UnparseablePlaceholder, Source: SourceUnparseable}
}

// fromBody runs detection, extraction and cleaning on a payload.
func (r *Resolver) fromBody(body []byte) (string, Source, Step) {
	step := Step{Tier: TierBody, Format: Detect(body)}

	var (
		raw    extracted
		ok     bool
		source Source
	)
	switch step.Format {
	case FormatBinaryPlist:
		raw, ok = extractBinaryPlist(body)
		source = SourceBinaryPlist
	case FormatTypedstream:
		raw, ok = extractTypedstream(body)
		source = SourceTypedstream
	default:
		step.Reason = "unrecognized format"
		return "", 0, step
	}
	if !ok {
		step.Reason = "no candidate"
		return "", 0, step
	}
	step.Candidate = raw.text
	step.Misread = raw.misread

	text, err := r.checker.clean(raw.text, raw.misread)
	if err != nil {
		step.Reason = err.Error()
		return "", 0, step
	}
	step.Accepted = true
	return text, source, step
}
