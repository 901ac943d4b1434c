// Package layout positions receipt text for a fixed character width.
//
// The engine is a pure function from directives to segments. Each segment is
// one physical printer line tagged with the alignment and emphasis it must be
// printed with.
package layout

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/adcondev/receipt-daemon/internal/media"
)

// Align is the horizontal alignment of a line.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

func (a Align) String() string {
	switch a {
	case AlignCenter:
		return "center"
	case AlignRight:
		return "right"
	default:
		return "left"
	}
}

// Emphasis is the character style of a line.
type Emphasis int

const (
	EmphasisNormal Emphasis = iota
	EmphasisBold
	EmphasisDouble
)

func (e Emphasis) String() string {
	switch e {
	case EmphasisBold:
		return "bold"
	case EmphasisDouble:
		return "double-size"
	default:
		return "normal"
	}
}

// SegmentKind distinguishes text lines, empty lines and images.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentBlank
	SegmentImage
)

// Segment is one positioned output line.
type Segment struct {
	Kind     SegmentKind
	Align    Align
	Emphasis Emphasis
	// Line is the text padded for its alignment within the column budget.
	Line string
	// Body is the text without alignment padding.
	Body  string
	Image *media.Bitmap
}

type directiveKind int

const (
	dirAlign directiveKind = iota
	dirEmphasis
	dirText
	dirRow
	dirSeparator
	dirBlank
	dirImage
	dirBlock
)

// Directive is one layout instruction. Build them with the constructors below.
type Directive struct {
	kind     directiveKind
	align    Align
	emphasis Emphasis
	text     string
	right    string
	char     rune
	count    int
	lines    []string
	image    *media.Bitmap
}

// SetAlign changes the alignment of following lines.
func SetAlign(a Align) Directive { return Directive{kind: dirAlign, align: a} }

// SetEmphasis changes the emphasis of following lines.
func SetEmphasis(e Emphasis) Directive { return Directive{kind: dirEmphasis, emphasis: e} }

// Text prints text, wrapping it when it exceeds the column budget.
func Text(s string) Directive { return Directive{kind: dirText, text: s} }

// Row prints left and right on one line when they fit, otherwise right moves
// to its own right-aligned line.
func Row(left, right string) Directive { return Directive{kind: dirRow, text: left, right: right} }

// Item prints "{qty}x {name}" with the price right aligned.
func Item(qty int, name, price string) Directive {
	return Row(strconv.Itoa(qty)+"x "+name, price)
}

// Separator fills a whole line with ch.
func Separator(ch rune) Directive { return Directive{kind: dirSeparator, char: ch} }

// Blank inserts one empty line.
func Blank() Directive { return Directive{kind: dirBlank, count: 1} }

// Feed inserts n empty lines.
func Feed(n int) Directive { return Directive{kind: dirBlank, count: n} }

// Image places a bitmap using the current alignment.
func Image(b *media.Bitmap) Directive { return Directive{kind: dirImage, image: b} }

// TextBlock prints preformatted lines as they are, aligned but never wrapped.
func TextBlock(lines []string) Directive { return Directive{kind: dirBlock, lines: lines} }

// Engine lays directives out for a fixed column count.
type Engine struct {
	Columns int
}

// Layout turns directives into segments. State starts at left/normal on every call.
func (e Engine) Layout(directives []Directive) []Segment {
	st := state{columns: e.Columns}
	for _, d := range directives {
		st.apply(d)
	}
	return st.out
}

type state struct {
	columns  int
	align    Align
	emphasis Emphasis
	out      []Segment
}

// width is the column budget for the current emphasis; double-size glyphs take two columns.
func (s *state) width() int {
	w := s.columns
	if s.emphasis == EmphasisDouble {
		w /= 2
	}
	if w < 1 {
		w = 1
	}
	return w
}

func (s *state) apply(d Directive) {
	switch d.kind {
	case dirAlign:
		s.align = d.align
	case dirEmphasis:
		s.emphasis = d.emphasis
	case dirText:
		for _, line := range Wrap(d.text, s.width()) {
			s.emitText(line, s.align)
		}
	case dirRow:
		s.row(d.text, d.right)
	case dirSeparator:
		s.emitText(strings.Repeat(string(d.char), s.width()), AlignLeft)
	case dirBlank:
		for i := 0; i < d.count; i++ {
			s.out = append(s.out, Segment{Kind: SegmentBlank, Align: s.align, Emphasis: s.emphasis})
		}
	case dirImage:
		if d.image != nil {
			s.out = append(s.out, Segment{Kind: SegmentImage, Align: s.align, Emphasis: s.emphasis, Image: d.image})
		}
	case dirBlock:
		for _, line := range d.lines {
			s.emitText(line, s.align)
		}
	}
}

func (s *state) row(left, right string) {
	w := s.width()
	if right == "" {
		for _, line := range Wrap(left, w) {
			s.emitText(line, AlignLeft)
		}
		return
	}
	ll, rl := utf8.RuneCountInString(left), utf8.RuneCountInString(right)
	if ll+1+rl <= w {
		s.emitText(left+strings.Repeat(" ", w-ll-rl)+right, AlignLeft)
		return
	}
	for _, line := range Wrap(left, w) {
		s.emitText(line, AlignLeft)
	}
	s.emitText(right, AlignRight)
}

func (s *state) emitText(body string, a Align) {
	s.out = append(s.out, Segment{
		Kind:     SegmentText,
		Align:    a,
		Emphasis: s.emphasis,
		Line:     Pad(body, s.width(), a),
		Body:     body,
	})
}

// Pad adds the leading spaces that place text at alignment a within width columns.
func Pad(text string, width int, a Align) string {
	n := utf8.RuneCountInString(text)
	var lead int
	switch a {
	case AlignCenter:
		lead = (width - n) / 2
	case AlignRight:
		lead = width - n
	}
	if lead <= 0 {
		return text
	}
	return strings.Repeat(" ", lead) + text
}

// Wrap splits text into lines of at most width runes, breaking at the last
// space that fits and falling back to a hard break inside long words.
func Wrap(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		lines = append(lines, wrapLine(para, width)...)
	}
	return lines
}

func wrapLine(text string, width int) []string {
	runes := []rune(strings.TrimRight(text, " "))
	if len(runes) <= width {
		return []string{string(runes)}
	}
	var lines []string
	for len(runes) > width {
		cut := -1
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		if cut <= 0 {
			lines = append(lines, string(runes[:width]))
			runes = runes[width:]
		} else {
			lines = append(lines, strings.TrimRight(string(runes[:cut]), " "))
			runes = runes[cut+1:]
		}
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
