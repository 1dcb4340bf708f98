package vm

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ---------------------------------------------------------------------------
// String builtins
// ---------------------------------------------------------------------------

// Character codes follow the Mac OS Roman table of the original
// authoring environment. Characters outside it map to code 63 ("?").

func registerStringBuiltins(r *Registry) {
	r.Register(&Builtin{Name: "string", Arity: Fixed(1), Doc: "convert to a string", Fn: builtinString})
	r.Register(&Builtin{Name: "length", Arity: Fixed(1), Doc: "number of characters in a string", Fn: builtinLength})
	r.Register(&Builtin{Name: "chars", Arity: Fixed(3), Doc: "characters from first to last (1-based, inclusive)", Fn: builtinChars})
	r.Register(&Builtin{Name: "charToNum", Arity: Fixed(1), Doc: "character code of the first character", Fn: builtinCharToNum})
	r.Register(&Builtin{Name: "numToChar", Arity: Fixed(1), Doc: "character for a character code", Fn: builtinNumToChar})
	r.Register(&Builtin{Name: "offset", Arity: Fixed(2), Doc: "position of one string in another, or 0", Fn: builtinOffset})
	r.Register(&Builtin{Name: "ilk", Arity: Fixed(1), Doc: "type of a value as a symbol", Fn: builtinIlk})
}

func builtinString(c *Call, args []Datum) (Datum, error) {
	return String(c.ToString(args[0])), nil
}

func builtinLength(c *Call, args []Datum) (Datum, error) {
	return Int(int64(utf8.RuneCountInString(c.ToString(args[0])))), nil
}

func builtinChars(c *Call, args []Datum) (Datum, error) {
	runes := []rune(c.ToString(args[0]))
	from, err := toInt64(args[1])
	if err != nil {
		return Void, err
	}
	to, err := toInt64(args[2])
	if err != nil {
		return Void, err
	}
	from = max(from, 1)
	to = min(to, int64(len(runes)))
	if from > to {
		return String(""), nil
	}
	return String(string(runes[from-1 : to])), nil
}

func builtinCharToNum(c *Call, args []Datum) (Datum, error) {
	s := c.ToString(args[0])
	if s == "" {
		return Int(0), nil
	}
	r, _ := utf8.DecodeRuneInString(s)
	if b, ok := charmap.Macintosh.EncodeRune(r); ok {
		return Int(int64(b)), nil
	}
	return Int('?'), nil
}

func builtinNumToChar(c *Call, args []Datum) (Datum, error) {
	n, err := toInt64(args[0])
	if err != nil {
		return Void, err
	}
	if n < 0 || n > 255 {
		return Void, argError(c.Name, "code %d out of range", n)
	}
	return String(string(charmap.Macintosh.DecodeByte(byte(n)))), nil
}

func builtinOffset(c *Call, args []Datum) (Datum, error) {
	needle := FoldName(c.ToString(args[0]))
	hay := FoldName(c.ToString(args[1]))
	i := strings.Index(hay, needle)
	if i < 0 {
		return Int(0), nil
	}
	return Int(int64(utf8.RuneCountInString(hay[:i]) + 1)), nil
}

func builtinIlk(c *Call, args []Datum) (Datum, error) {
	return Sym(args[0].Kind().String()), nil
}
