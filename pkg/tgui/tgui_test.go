package tgui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeHelpers(t *testing.T) {
	assert.Equal(t, H("&lt;b&gt;"), Esc("<b>"))
	assert.Equal(t, "<b>a&amp;b</b>", B("a&b").String())
	assert.Equal(t, "<code>1 &lt; 2</code>", Code("1 < 2").String())
	assert.Equal(t, "<pre>x\n&lt;y&gt;</pre>", Pre("x\n<y>").String())
	assert.Equal(t, "a, <b>b</b>", JoinH(", ", Raw("a"), "", "  ", B("b")).String())
}

func TestBuilder(t *testing.T) {
	out := New().
		Title("ℹ️", "Settings").
		KV("Times", "09:00,18:00").
		KVText("Target", "Archive <main>").
		Blank().
		Section("Next").
		Bullets("one", " ", "two").
		Blank().
		String()

	assert.Equal(t, "ℹ️ <b>Settings</b>\n"+
		"Times: <code>09:00,18:00</code>\n"+
		"Target: Archive &lt;main&gt;\n"+
		"\n"+
		"<b>Next</b>\n"+
		"• one\n"+
		"• two", out)
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncRunes("abc", 3))
	assert.Equal(t, "ab…", TruncRunes("abc", 2))
	assert.Equal(t, "пр…", TruncRunes("привет", 2))
	assert.Equal(t, "", TruncRunes("abc", 0))
}

func TestCallbackData(t *testing.T) {
	assert.Equal(t, "menu:info", Data(" menu ", "info", ""))
	assert.Equal(t, "menu:page:2:x", Data("menu", "page", "2:x"))

	prefix, action, payload, ok := ParseData("menu:page:2:x")
	assert.True(t, ok)
	assert.Equal(t, "menu", prefix)
	assert.Equal(t, "page", action)
	assert.Equal(t, "2:x", payload)

	_, _, payload, ok = ParseData("menu:info")
	assert.True(t, ok)
	assert.Empty(t, payload)

	for _, bad := range []string{"", "menu", ":info", "menu:"} {
		_, _, _, ok := ParseData(bad)
		assert.False(t, ok, bad)
	}
}

func TestInlineKeyboard(t *testing.T) {
	rm := NewInline().
		Row(Btn("Info", Data("menu", "info", "")), Btn("Times", Data("menu", "get_time", ""))).
		Row(Btn("List", Data("menu", "list", ""))).
		Markup()
	assert.Len(t, rm.InlineKeyboard, 2)
	assert.Len(t, rm.InlineKeyboard[0], 2)
	assert.Equal(t, "menu:get_time", rm.InlineKeyboard[0][1].Data)
	assert.Equal(t, "List", rm.InlineKeyboard[1][0].Text)
}
