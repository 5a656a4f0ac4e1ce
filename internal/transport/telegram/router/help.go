package router

import (
	"strings"

	"reposter/pkg/tgui"
)

// helpText renders help in HTML parse mode. With an argument it describes one
// command (routes and aliases both resolve).
func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	ordered := m.ordered
	index := m.cmds
	m.mu.RUnlock()

	if len(args) > 0 {
		c, ok := index[sanitizeTelegramCommand(args[0])]
		if !ok {
			return tgui.New().
				Title("❓", "Unknown command").
				RawLine("Type " + tgui.Code("/help").String() + " for the list.").
				String()
		}
		return commandHelpHTML(*c)
	}

	b := tgui.New().Title("📚", "Commands").Blank()
	for _, c := range ordered {
		line := "/" + c.Route
		if c.Description != "" {
			line += " - " + c.Description
		}
		if c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		b.Line(line)
	}
	return b.Blank().Line("Forward a post from a channel to schedule it.").String()
}

func commandHelpHTML(c Command) string {
	b := tgui.New().Section("/" + c.Route)
	if c.Description != "" {
		b.Line(c.Description)
	}
	if c.Usage != "" {
		b.Blank().KV("Usage", c.Usage)
	}
	if len(c.Aliases) > 0 {
		b.KVText("Aliases", strings.Join(c.Aliases, ", "))
	}
	if c.Access == AccessOwnerOnly {
		b.Line("🔒 owner only")
	}
	return b.String()
}
