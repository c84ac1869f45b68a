package subscriptions

import (
	"sort"
	"strconv"
	"strings"
)

// ToExtJSON renders the set as a JSON object mapping each object class
// name to a single string of its queries, deduplicated and joined with
// "OR". Two sets with the same subscriptions in different orders produce
// identical output, so the server doesn't re-run equivalent queries for a
// table just because the client declared them in a different order. An
// empty set renders as the literal "{}". No JSON library is used: the
// output is small and a hand-rolled emitter keeps the format stable
// regardless of how a general-purpose encoder might choose to escape or
// order things.
func (s *SubscriptionSet) ToExtJSON() string {
	if len(s.subs) == 0 {
		return "{}"
	}

	classOrder := make([]string, 0)
	queriesByClass := make(map[string][]string)
	seen := make(map[string]map[string]struct{})

	for _, sub := range s.subs {
		class := sub.ObjectClassName
		if _, ok := seen[class]; !ok {
			seen[class] = make(map[string]struct{})
			classOrder = append(classOrder, class)
		}
		if _, dup := seen[class][sub.QueryString]; dup {
			continue
		}
		seen[class][sub.QueryString] = struct{}{}
		queriesByClass[class] = append(queriesByClass[class], sub.QueryString)
	}

	if len(classOrder) == 0 {
		return "{}"
	}

	sort.Strings(classOrder)

	var b strings.Builder
	b.WriteByte('{')
	for i, class := range classOrder {
		if i > 0 {
			b.WriteByte(',')
		}
		queries := queriesByClass[class]
		sort.Stable(sort.StringSlice(queries))

		var joined strings.Builder
		for j, q := range queries {
			if j > 0 {
				joined.WriteString(" OR ")
			}
			joined.WriteByte('(')
			joined.WriteString(q)
			joined.WriteByte(')')
		}

		writeJSONString(&b, class)
		b.WriteByte(':')
		writeJSONString(&b, joined.String())
	}
	b.WriteByte('}')
	return b.String()
}

// writeJSONString escapes s per RFC 8259 and writes it, quoted, to b.
func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u`)
				hex := strconv.FormatInt(int64(r), 16)
				for i := len(hex); i < 4; i++ {
					b.WriteByte('0')
				}
				b.WriteString(hex)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
