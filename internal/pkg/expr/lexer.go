package expr

import (
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tIdent
	tNumber
	tOp
	tLParen
	tRParen
	tLBrack
	tRBrack
	tComma
	tColon
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// lex splits an expression string into tokens. The word "dot" is an operator.
func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			word := string(rs[start:i])
			if word == "dot" {
				toks = append(toks, token{kind: tOp, text: word, pos: start})
			} else {
				toks = append(toks, token{kind: tIdent, text: word, pos: start})
			}
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
				j := i + 1
				if j < len(rs) && (rs[j] == '+' || rs[j] == '-') {
					j++
				}
				if j < len(rs) && unicode.IsDigit(rs[j]) {
					i = j
					for i < len(rs) && unicode.IsDigit(rs[i]) {
						i++
					}
				}
			}
			text := string(rs[start:i])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &SyntaxError{Expr: src, Pos: start, Msg: "malformed number " + strconv.Quote(text)}
			}
			toks = append(toks, token{kind: tNumber, text: text, num: v, pos: start})
		case r == '*':
			if i+1 < len(rs) && rs[i+1] == '*' {
				toks = append(toks, token{kind: tOp, text: "**", pos: i})
				i += 2
				continue
			}
			toks = append(toks, token{kind: tOp, text: "*", pos: i})
			i++
		case r == '+' || r == '-' || r == '/' || r == '@':
			toks = append(toks, token{kind: tOp, text: string(r), pos: i})
			i++
		case r == '(':
			toks = append(toks, token{kind: tLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tRParen, text: ")", pos: i})
			i++
		case r == '[':
			toks = append(toks, token{kind: tLBrack, text: "[", pos: i})
			i++
		case r == ']':
			toks = append(toks, token{kind: tRBrack, text: "]", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tComma, text: ",", pos: i})
			i++
		case r == ':':
			toks = append(toks, token{kind: tColon, text: ":", pos: i})
			i++
		default:
			return nil, &SyntaxError{Expr: src, Pos: i, Msg: "unexpected character " + strconv.QuoteRune(r)}
		}
	}
	toks = append(toks, token{kind: tEOF, pos: len(rs)})
	return toks, nil
}
