package commands

import (
	"strings"

	kit "notificationbot/internal/transport"
)

const (
	maxMenuName = 32
	maxMenuDesc = 256
)

// sanitizeMenuName maps a route or alias to Telegram's [a-z0-9_]{1,32}.
func sanitizeMenuName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_', r == '-', r == ' ', r == '/':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxMenuName {
		out = strings.TrimRight(out[:maxMenuName], "_")
	}
	return out
}

func menuName(route []string) (string, bool) {
	out := sanitizeMenuName(strings.Join(route, "_"))
	return out, out != ""
}

// buildMenu lists top-level commands and the leaves of command groups in
// route order.
func buildMenu(root *cmdNode) []kit.BotCommand {
	var out []kit.BotCommand
	seen := map[string]bool{}
	add := func(route []string, n *cmdNode) {
		name, ok := menuName(route)
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		desc := strings.ReplaceAll(describeNode(n), "\n", " ")
		if desc == "" {
			desc = name
		}
		if ownerOnly(n) {
			desc = "🔒 " + desc
		}
		if len(desc) > maxMenuDesc {
			desc = desc[:maxMenuDesc]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}

	var walk func(n *cmdNode, route []string)
	walk = func(n *cmdNode, route []string) {
		for _, name := range n.childNames() {
			c, _ := n.child(name)
			r := append(append([]string(nil), route...), name)
			if c.cmd != nil || len(route) == 0 {
				add(r, c)
			}
			walk(c, r)
		}
	}
	walk(root, nil)
	return out
}
