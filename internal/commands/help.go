package commands

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML parse mode.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	aliases := m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.TrimPrefix(p, "/")
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := aliases[p]; ok && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "<b>Unknown command</b>\nType <code>/help</code> for the list."
		}
		cur = n
		full = append(full, p)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	type row struct {
		name, desc string
		lock       bool
	}
	var rows []row
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: describeNode(n), lock: ownerOnly(n)})
	}
	// owner-only commands last, alphabetical within each group
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{"<b>Commands</b>", "Type <code>/help &lt;cmd&gt;</code> for details.", ""}
	for _, r := range rows {
		line := "• "
		if r.lock {
			line += "🔒 "
		}
		line += "<code>/" + html.EscapeString(r.name) + "</code>"
		if r.desc != "" {
			line += " - " + html.EscapeString(r.desc)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpNode(cur *cmdNode, full []string) string {
	lines := []string{"<b>Help</b> <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>owners only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if len(c.Aliases) > 0 {
			short := make([]string, 0, len(c.Aliases))
			for _, a := range c.Aliases {
				short = append(short, "<code>/"+html.EscapeString(a)+"</code>")
			}
			lines = append(lines, "", "<b>Shortcuts</b> "+strings.Join(short, ", "))
		}
	}
	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := "• <code>/" + html.EscapeString(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := describeNode(n); d != "" {
				line += " - " + html.EscapeString(d)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func describeNode(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	if len(kids) > 3 {
		return "subcommands: " + strings.Join(kids[:3], ", ") + ", …"
	}
	return "subcommands: " + strings.Join(kids, ", ")
}

// ownerOnly reports whether n and every command below it is owner-only.
func ownerOnly(n *cmdNode) bool {
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, c := range n.children {
		if !ownerOnly(c) {
			return false
		}
	}
	return len(n.children) > 0
}
