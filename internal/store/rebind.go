package store

import (
	"fmt"
	"strings"
)

// rebind rewrites ? placeholders into the dialect's positional form and
// converts backtick-quoted identifiers into standard double-quoted ones.
// Question marks inside string literals or quoted identifiers are left
// alone. The number of placeholders must match want.
func rebind(d Dialect, query string, want int) (string, error) {
	var b strings.Builder
	b.Grow(len(query) + want*2)

	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			if c == quote {
				// Doubled quote is an escaped quote character.
				if i+1 < len(query) && query[i+1] == quote {
					b.WriteByte(c)
					if c != '`' {
						b.WriteByte(c)
					}
					i++
					continue
				}
				quote = 0
				if c == '`' {
					b.WriteByte('"')
					continue
				}
			}
			if quote == '`' && c == '"' {
				b.WriteString(`""`)
				continue
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			b.WriteByte(c)
		case '`':
			quote = c
			b.WriteByte('"')
		case '?':
			n++
			b.WriteString(d.Placeholder(n))
		default:
			b.WriteByte(c)
		}
	}
	if quote != 0 {
		return "", fmt.Errorf("unterminated %q quote in query", quote)
	}
	if n != want {
		return "", fmt.Errorf("%w: query has %d, got %d parameters", ErrPlaceholderMismatch, n, want)
	}
	return b.String(), nil
}

// quoteIdent quotes a table or column name.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
