package commands

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
)

func newReqID() string { return uuid.NewString() }

// Telegram clients often autocorrect straight quotes.
var quoteFixer = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")

// tokenizeCommandLine splits command text with shell quoting rules:
//
//	/set standup "Daily standup" https://meet.example/abc
//
// Text with unbalanced quotes ("don't forget") falls back to a plain
// whitespace split.
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts, err := shellquote.Split(quoteFixer.Replace(s))
	if err != nil {
		return strings.Fields(s)
	}
	return parts
}

// parseFlags splits raw args into positionals and flags.
//
// Supported:
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v, -abc (bool flags a,b,c)
//
// Numbers such as "-5" stay positional.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	takesValue := func(i int) bool {
		return i+1 < len(args) && (!strings.HasPrefix(args[i+1], "-") || isNumber(args[i+1]))
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if isNumber(a) {
			pos = append(pos, a)
			continue
		}
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := strings.TrimPrefix(a, "--")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if takesValue(i) {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			key := strings.TrimPrefix(a, "-")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if len(key) == 1 {
				if takesValue(i) {
					flags[key] = args[i+1]
					i++
					continue
				}
				bools[key] = true
				continue
			}
			for j := 0; j < len(key); j++ {
				bools[string(key[j])] = true
			}
			continue
		}
		pos = append(pos, a)
	}
	return pos, flags, bools
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
