package router

import (
	"html"
	"strings"
)

// helpText renders help in HTML parse mode: the command list for an empty
// path, or one command's usage.
func (m *Router) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}
	first := strings.ToLower(strings.TrimPrefix(path[0], "/"))
	var (
		node *cmdNode
		full []string
	)
	if leaf, ok := alias[first]; ok && leaf.cmd != nil {
		node, full = leaf, splitRoute(leaf.cmd.Route)
	} else {
		node, full, _ = root.walk(first, path[1:])
	}
	if node == nil {
		return "❓ <b>Неизвестная команда</b>\nВведите <code>/help</code>, чтобы увидеть список команд."
	}
	return helpNode(node, full)
}

func helpTop(root *cmdNode) string {
	lines := []string{"📚 <b>Команды</b>", ""}
	var admin []string
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		line := "• <code>/" + html.EscapeString(name) + "</code>"
		if d := nodeDesc(n); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if n.cmd != nil && n.cmd.Access != AccessEveryone {
			admin = append(admin, "• 🔒 "+strings.TrimPrefix(line, "• "))
			continue
		}
		lines = append(lines, line)
	}
	if len(admin) > 0 {
		lines = append(lines, "", "<b>Для администраторов</b>")
		lines = append(lines, admin...)
	}
	lines = append(lines, "", "Подробнее: <code>/help &lt;команда&gt;</code>")
	return strings.Join(lines, "\n")
}

func helpNode(n *cmdNode, full []string) string {
	lines := []string{"📚 <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}
	if c := n.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		switch c.Access {
		case AccessGroupAdmin:
			lines = append(lines, "🔒 <i>Только для администраторов</i>")
		case AccessOwnerOnly:
			lines = append(lines, "🔒 <i>Только для владельца</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Использование</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
	}
	if len(n.children) > 0 {
		lines = append(lines, "", "<b>Подкоманды</b>")
		for _, name := range n.childNames() {
			child, _ := n.child(name)
			line := "• <code>/" + html.EscapeString(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := nodeDesc(child); d != "" {
				line += " - " + html.EscapeString(d)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func nodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	return "подкоманды: " + strings.Join(kids, ", ")
}
