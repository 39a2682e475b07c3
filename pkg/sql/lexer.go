package sql

import "strings"

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenString
	tokenQuotedIdent
	tokenSemicolon
	tokenSymbol
)

// token is one lexical unit of a statement. For string literals Text holds the
// literal's content without quotes; for words it holds the upper-cased word.
type token struct {
	Kind   tokenKind
	Text   string
	Offset int
}

// tokenize splits a statement into words, literals, quoted identifiers and
// semicolons. Comments (-- line and /* block */) are dropped. An unterminated
// literal or comment runs to the end of input.
func tokenize(stmt string) []token {
	var tokens []token
	n := len(stmt)

	for i := 0; i < n; {
		c := stmt[i]
		switch {
		case c == '-' && i+1 < n && stmt[i+1] == '-':
			for i < n && stmt[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && stmt[i+1] == '*':
			end := strings.Index(stmt[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i += end + 4
			}
		case c == '\'':
			start := i
			var sb strings.Builder
			i++
			for i < n {
				if stmt[i] == '\\' && i+1 < n {
					sb.WriteByte(stmt[i+1])
					i += 2
					continue
				}
				if stmt[i] == '\'' {
					if i+1 < n && stmt[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteByte(stmt[i])
				i++
			}
			tokens = append(tokens, token{Kind: tokenString, Text: sb.String(), Offset: start})
		case c == '"' || c == '[' || c == '`':
			closer := c
			if c == '[' {
				closer = ']'
			}
			start := i
			i++
			for i < n && stmt[i] != closer {
				i++
			}
			tokens = append(tokens, token{Kind: tokenQuotedIdent, Text: stmt[start+1 : min(i, n)], Offset: start})
			i++
		case c == ';':
			tokens = append(tokens, token{Kind: tokenSemicolon, Text: ";", Offset: i})
			i++
		case isWordByte(c):
			start := i
			for i < n && isWordByte(stmt[i]) {
				i++
			}
			tokens = append(tokens, token{Kind: tokenWord, Text: strings.ToUpper(stmt[start:i]), Offset: start})
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		default:
			tokens = append(tokens, token{Kind: tokenSymbol, Text: string(c), Offset: i})
			i++
		}
	}

	return tokens
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c >= 0x80
}
