package pglynx

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// NamedArgs can be passed as the only argument to a query method. Every '$(name)p' placeholder is replaced with a
// '$' ordinal placeholder, numbered by first occurrence, and the matching positional argument list is constructed.
//
// For example, the following two queries are equivalent:
//
//	conn.Execute(ctx, "select * from widgets where foo = $(foo)p and bar = $(bar)p", pglynx.NamedArgs{"foo": 1, "bar": 2})
//	conn.Execute(ctx, "select * from widgets where foo = $1 and bar = $2", 1, 2)
//
// A placeholder with no matching argument and an argument with no matching placeholder are both errors, raised
// before any network I/O.
type NamedArgs map[string]interface{}

// rewriteQuery replaces the named placeholders in sql, preserving occurrence order. Placeholders inside string
// literals, quoted identifiers, and comments are left untouched.
func (na NamedArgs) rewriteQuery(sql string) (string, []interface{}, error) {
	l := &namedArgLexer{
		src:           sql,
		stateFn:       namedArgRawState,
		nameToOrdinal: make(map[string]int, len(na)),
	}

	for l.stateFn != nil {
		l.stateFn = l.stateFn(l)
	}

	sb := strings.Builder{}
	for _, p := range l.parts {
		switch p := p.(type) {
		case string:
			sb.WriteString(p)
		case namedArgRef:
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(l.nameToOrdinal[string(p)]))
		}
	}

	args := make([]interface{}, len(l.nameToOrdinal))
	for name, ordinal := range l.nameToOrdinal {
		v, present := na[name]
		if !present {
			return "", nil, &NamedParamError{Name: name, Missing: true}
		}
		args[ordinal-1] = v
	}

	for name := range na {
		if _, referenced := l.nameToOrdinal[name]; !referenced {
			return "", nil, &NamedParamError{Name: name}
		}
	}

	return sb.String(), args, nil
}

type namedArgRef string

type namedArgLexer struct {
	src     string
	start   int
	pos     int
	nested  int // multiline comment nesting level.
	stateFn namedArgStateFn
	parts   []interface{}

	nameToOrdinal map[string]int
}

type namedArgStateFn func(*namedArgLexer) namedArgStateFn

func namedArgRawState(l *namedArgLexer) namedArgStateFn {
	for {
		r, width := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += width

		switch r {
		case 'e', 'E':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune == '\'' {
				l.pos += width
				return namedArgEscapeStringState
			}
		case '\'':
			return namedArgSingleQuoteState
		case '"':
			return namedArgDoubleQuoteState
		case '$':
			nextRune, _ := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune == '(' {
				if l.pos-l.start > 0 {
					l.parts = append(l.parts, l.src[l.start:l.pos-width])
				}
				l.pos++ // consume '('
				l.start = l.pos
				return namedArgNameState
			}
		case '-':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune == '-' {
				l.pos += width
				return namedArgOneLineCommentState
			}
		case '/':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune == '*' {
				l.pos += width
				return namedArgMultilineCommentState
			}
		case utf8.RuneError:
			if l.pos-l.start > 0 {
				l.parts = append(l.parts, l.src[l.start:l.pos])
				l.start = l.pos
			}
			return nil
		}
	}
}

func namedArgIsNameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func namedArgNameState(l *namedArgLexer) namedArgStateFn {
	for {
		r, width := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += width

		switch {
		case r == ')':
			name := l.src[l.start : l.pos-width]
			// A placeholder is only complete with the trailing type marker; anything else is plain text.
			nextRune, nextWidth := utf8.DecodeRuneInString(l.src[l.pos:])
			if name == "" || nextRune != 'p' {
				l.parts = append(l.parts, "$("+l.src[l.start:l.pos])
				l.start = l.pos
				return namedArgRawState
			}
			l.pos += nextWidth
			if _, found := l.nameToOrdinal[name]; !found {
				l.nameToOrdinal[name] = len(l.nameToOrdinal) + 1
			}
			l.parts = append(l.parts, namedArgRef(name))
			l.start = l.pos
			return namedArgRawState
		case r == utf8.RuneError || !namedArgIsNameRune(r):
			// Unterminated or malformed placeholder; emit the consumed text verbatim.
			l.parts = append(l.parts, "$("+l.src[l.start:l.pos])
			l.start = l.pos
			if r == utf8.RuneError {
				return nil
			}
			return namedArgRawState
		}
	}
}

func namedArgSingleQuoteState(l *namedArgLexer) namedArgStateFn {
	for {
		r, width := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += width

		switch r {
		case '\'':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune != '\'' {
				return namedArgRawState
			}
			l.pos += width
		case utf8.RuneError:
			if l.pos-l.start > 0 {
				l.parts = append(l.parts, l.src[l.start:l.pos])
				l.start = l.pos
			}
			return nil
		}
	}
}

func namedArgDoubleQuoteState(l *namedArgLexer) namedArgStateFn {
	for {
		r, width := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += width

		switch r {
		case '"':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune != '"' {
				return namedArgRawState
			}
			l.pos += width
		case utf8.RuneError:
			if l.pos-l.start > 0 {
				l.parts = append(l.parts, l.src[l.start:l.pos])
				l.start = l.pos
			}
			return nil
		}
	}
}

func namedArgEscapeStringState(l *namedArgLexer) namedArgStateFn {
	for {
		r, width := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += width

		switch r {
		case '\\':
			_, width = utf8.DecodeRuneInString(l.src[l.pos:])
			l.pos += width
		case '\'':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune != '\'' {
				return namedArgRawState
			}
			l.pos += width
		case utf8.RuneError:
			if l.pos-l.start > 0 {
				l.parts = append(l.parts, l.src[l.start:l.pos])
				l.start = l.pos
			}
			return nil
		}
	}
}

func namedArgOneLineCommentState(l *namedArgLexer) namedArgStateFn {
	for {
		r, width := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += width

		switch r {
		case '\\':
			_, width = utf8.DecodeRuneInString(l.src[l.pos:])
			l.pos += width
		case '\n', '\r':
			return namedArgRawState
		case utf8.RuneError:
			if l.pos-l.start > 0 {
				l.parts = append(l.parts, l.src[l.start:l.pos])
				l.start = l.pos
			}
			return nil
		}
	}
}

func namedArgMultilineCommentState(l *namedArgLexer) namedArgStateFn {
	for {
		r, width := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += width

		switch r {
		case '/':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune == '*' {
				l.pos += width
				l.nested++
			}
		case '*':
			nextRune, width := utf8.DecodeRuneInString(l.src[l.pos:])
			if nextRune != '/' {
				continue
			}

			l.pos += width
			if l.nested == 0 {
				return namedArgRawState
			}
			l.nested--

		case utf8.RuneError:
			if l.pos-l.start > 0 {
				l.parts = append(l.parts, l.src[l.start:l.pos])
				l.start = l.pos
			}
			return nil
		}
	}
}
