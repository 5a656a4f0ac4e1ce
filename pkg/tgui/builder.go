package tgui

import "strings"

// Builder assembles a multi-line HTML reply.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds "<emoji> <b>title</b>". Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := B(strings.TrimSpace(title))
	if e := strings.TrimSpace(emoji); e != "" {
		t = Esc(e) + " " + t
	}
	return b.RawLine(t.String())
}

// Section adds a bold header.
func (b *Builder) Section(title string) *Builder {
	return b.RawLine(B(strings.TrimSpace(title)).String())
}

// Line adds an escaped line.
func (b *Builder) Line(s string) *Builder {
	return b.RawLine(Esc(s).String())
}

// RawLine adds a line without escaping.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

func (b *Builder) Blank() *Builder { return b.RawLine("") }

// Bullets adds one "• item" line per non-blank item.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// KV adds "key: <code>value</code>".
func (b *Builder) KV(key, value string) *Builder {
	return b.RawLine(Esc(key).String() + ": " + Code(value).String())
}

// KVText adds "key: value" with the value as plain text.
func (b *Builder) KVText(key, value string) *Builder {
	return b.RawLine(Esc(key).String() + ": " + Esc(value).String())
}

// String joins the lines, trimming leading and trailing blank lines.
func (b *Builder) String() string {
	return strings.Trim(strings.Join(b.lines, "\n"), "\n")
}
