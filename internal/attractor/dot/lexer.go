package dot

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenString
	tokenSymbol
)

type token struct {
	typ tokenType
	lit string
	pos int // byte offset into the comment-stripped source
}

// stripComments removes //, # line comments and /* */ block comments while
// preserving quoted strings. Byte offsets shift, but errors still point at
// a usable position in the cleaned source.
func stripComments(src []byte) ([]byte, error) {
	var out []byte
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '"':
			out = append(out, c)
			i++
			for i < len(src) {
				out = append(out, src[i])
				if src[i] == '\\' && i+1 < len(src) {
					i++
					out = append(out, src[i])
					i++
					continue
				}
				if src[i] == '"' {
					i++
					break
				}
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(string(src[i+2:]), "*/")
			if end < 0 {
				return nil, fmt.Errorf("dot parse: unterminated block comment at %d", i)
			}
			i += 2 + end + 2
		default:
			out = append(out, c)
			i++
		}
	}
	return out, nil
}

type lexer struct {
	src []byte
	pos int
}

func newLexer(src []byte) *lexer {
	return &lexer{src: src}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && isSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return token{typ: tokenEOF, pos: lx.pos}, nil
	}
	start := lx.pos
	c := lx.src[lx.pos]

	if c == '"' {
		lit, err := lx.scanString()
		if err != nil {
			return token{}, err
		}
		return token{typ: tokenString, lit: lit, pos: start}, nil
	}

	if isIdentByte(c) {
		for lx.pos < len(lx.src) && isIdentByte(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{typ: tokenIdent, lit: string(lx.src[start:lx.pos]), pos: start}, nil
	}

	if c == '-' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '>' {
		lx.pos += 2
		return token{typ: tokenSymbol, lit: "->", pos: start}, nil
	}

	switch c {
	case '{', '}', '[', ']', '=', ',', ';', '.', ':', '/', '-':
		lx.pos++
		return token{typ: tokenSymbol, lit: string(c), pos: start}, nil
	}
	return token{}, fmt.Errorf("dot parse: unexpected character %q at %d", string(c), start)
}

func (lx *lexer) scanString() (string, error) {
	start := lx.pos
	lx.pos++ // opening quote
	var b strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == '\\' && lx.pos+1 < len(lx.src) {
			nxt := lx.src[lx.pos+1]
			switch nxt {
			case '"', '\\':
				b.WriteByte(nxt)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte('\\')
				b.WriteByte(nxt)
			}
			lx.pos += 2
			continue
		}
		if c == '"' {
			lx.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		lx.pos++
	}
	return "", fmt.Errorf("dot parse: unterminated string at %d", start)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
