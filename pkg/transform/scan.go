package transform

import (
	"bufio"
	"io"
	"strings"
	"unicode"
)

// Scan finds the string literal arguments of every call to word in src, e.g.
// require('react') yields "react". It is a small state machine over runes,
// not a parser: comments, string, template and regex literals are skipped,
// calls with a non-literal argument are ignored. Specifiers are returned
// once, in order of first appearance.
func Scan(src io.Reader, word string) ([]string, error) {
	rd := bufio.NewReader(src)
	seen := map[string]bool{}
	var specs []string
	// prev is the previous rune, last the previous non-space one.
	var prev, last rune
	lineStart := true

	for {
		c, _, err := rd.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return specs, err
		}

		switch {
		case c == '/':
			next, _, err := rd.ReadRune()
			if err != nil {
				break
			}
			switch next {
			case '/':
				if _, err := rd.ReadString('\n'); err != nil && err != io.EOF {
					return specs, err
				}
				prev, lineStart = '\n', true
				continue
			case '*':
				if err := skipBlockComment(rd); err != nil {
					return specs, err
				}
				prev = ' '
				continue
			default:
				if err := rd.UnreadRune(); err != nil {
					return specs, err
				}
				if lineStart || strings.ContainsRune(regexPrefix, last) {
					if err := skipRegex(rd); err != nil {
						return specs, err
					}
					prev, last, lineStart = '/', '/', false
					continue
				}
			}
		case c == '\'' || c == '"' || c == '`':
			if err := skipString(rd, c); err != nil {
				return specs, err
			}
			prev, last, lineStart = c, c, false
			continue
		case c == rune(word[0]) && !isIdent(prev) && prev != '.':
			spec, ok, err := readCall(rd, word[1:])
			if err != nil {
				return specs, err
			}
			if ok && !seen[spec] {
				seen[spec] = true
				specs = append(specs, spec)
			}
		}
		prev = c
		switch {
		case c == '\n':
			lineStart = true
		case !unicode.IsSpace(c):
			last, lineStart = c, false
		}
	}
	return specs, nil
}

// A slash after one of these starts a regex literal, not a division.
const regexPrefix = "(,=:[!&|?{};"

// skipString consumes a quoted literal up to its closing quote q. Quotes
// other than backticks end at a newline.
func skipString(rd *bufio.Reader, q rune) error {
	for {
		c, _, err := rd.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case c == '\\':
			if _, _, err := rd.ReadRune(); err != nil && err != io.EOF {
				return err
			}
		case c == q:
			return nil
		case c == '\n' && q != '`':
			return nil
		}
	}
}

// skipRegex consumes a regex literal after its opening slash. Flags are left
// to the caller.
func skipRegex(rd *bufio.Reader) error {
	var class bool
	for {
		c, _, err := rd.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch c {
		case '\\':
			if _, _, err := rd.ReadRune(); err != nil && err != io.EOF {
				return err
			}
		case '[':
			class = true
		case ']':
			class = false
		case '/':
			if !class {
				return nil
			}
		case '\n':
			return nil
		}
	}
}

// readCall reads the rest of word, an opening paren and a quoted literal. It
// only consumes input when a call is found.
func readCall(rd *bufio.Reader, rest string) (string, bool, error) {
	buf, err := rd.Peek(len(rest))
	if err != nil || string(buf) != rest {
		return "", false, nil
	}
	if _, err := rd.Discard(len(rest)); err != nil {
		return "", false, err
	}
	if !expect(rd, '(') {
		return "", false, nil
	}
	q, _, err := rd.ReadRune()
	if err != nil {
		return "", false, nil
	}
	for unicode.IsSpace(q) {
		if q, _, err = rd.ReadRune(); err != nil {
			return "", false, nil
		}
	}
	if q != '\'' && q != '"' && q != '`' {
		return "", false, rd.UnreadRune()
	}
	lit, err := rd.ReadString(byte(q))
	if err == io.EOF {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	lit = lit[:len(lit)-1]
	if lit == "" || strings.ContainsAny(lit, "\n\\") || (q == '`' && strings.Contains(lit, "${")) {
		return "", false, nil
	}
	return lit, true, nil
}

// expect skips whitespace and consumes r if it is next.
func expect(rd *bufio.Reader, r rune) bool {
	for {
		c, _, err := rd.ReadRune()
		if err != nil {
			return false
		}
		if unicode.IsSpace(c) {
			continue
		}
		if c == r {
			return true
		}
		_ = rd.UnreadRune()
		return false
	}
}

func skipBlockComment(rd *bufio.Reader) error {
	var prev rune
	for {
		c, _, err := rd.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if prev == '*' && c == '/' {
			return nil
		}
		prev = c
	}
}

func isIdent(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
