// Package htmltpl implements the minimal `{{key}}` string-substitution
// templating used for the admin status/info pages (spec.md §4.5
// "admin"). The external source this spec was
// distilled from delegates this to a full template engine; this
// module keeps a tiny internal substitution pass so the admin step is
// runnable without pulling in an HTML templating dependency no other
// component needs.
package htmltpl

import "strings"

// Render replaces every `{{key}}` occurrence in tpl with vars[key],
// leaving unknown placeholders untouched.
func Render(tpl string, vars map[string]string) string {
	var b strings.Builder
	i := 0
	for i < len(tpl) {
		start := strings.Index(tpl[i:], "{{")
		if start < 0 {
			b.WriteString(tpl[i:])
			break
		}
		start += i
		b.WriteString(tpl[i:start])

		end := strings.Index(tpl[start:], "}}")
		if end < 0 {
			b.WriteString(tpl[start:])
			break
		}
		end += start

		key := strings.TrimSpace(tpl[start+2 : end])
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(tpl[start : end+2])
		}
		i = end + 2
	}
	return b.String()
}
