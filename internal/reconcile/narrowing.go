package reconcile

import (
	"strconv"
	"strings"
)

var integerRank = map[string]int{
	"tinyint":   1,
	"smallint":  2,
	"mediumint": 3,
	"int":       4,
	"integer":   4,
	"bigint":    5,
}

var textRank = map[string]int{
	"tinytext":   1,
	"text":       2,
	"mediumtext": 3,
	"longtext":   4,
}

// columnType is the parsed type portion of a column declaration.
type columnType struct {
	base     string
	args     []string
	unsigned bool
}

// parseDeclaration reads the type out of a declaration such as
// "`Name` varchar(60) NOT NULL" or "\"Name\" VARCHAR(60)".
func parseDeclaration(decl string) columnType {
	rest := strings.TrimSpace(decl)
	if rest != "" && (rest[0] == '`' || rest[0] == '"') {
		if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
			rest = strings.TrimSpace(rest[end+2:])
		}
	} else if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		rest = strings.TrimSpace(rest[sp+1:])
	}

	var ct columnType
	i := 0
	for i < len(rest) && rest[i] != '(' && rest[i] != ' ' {
		i++
	}
	ct.base = strings.ToLower(rest[:i])
	rest = rest[i:]
	if strings.HasPrefix(rest, "(") {
		if end := matchingParen(rest); end > 0 {
			ct.args = splitArgs(rest[1:end])
			rest = rest[end+1:]
		}
	}
	ct.unsigned = strings.Contains(strings.ToLower(rest), "unsigned")
	return ct
}

func matchingParen(s string) int {
	depth := 0
	quoted := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitArgs(s string) []string {
	var out []string
	var cur strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			quoted = !quoted
			cur.WriteByte(c)
		case c == ',' && !quoted:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

func (ct columnType) intArg(i int) (int, bool) {
	if i >= len(ct.args) {
		return 0, false
	}
	n, err := strconv.Atoi(ct.args[i])
	return n, err == nil
}

func family(base string) string {
	switch {
	case integerRank[base] > 0:
		return "integer"
	case textRank[base] > 0:
		return "text"
	case base == "varchar" || base == "char":
		return "string"
	case base == "decimal" || base == "numeric":
		return "decimal"
	case base == "float" || base == "double" || base == "real":
		return "float"
	}
	return base
}

// Narrowing reports whether changing a column from the before declaration to
// the after declaration can truncate or reject existing data.
func Narrowing(before, after string) bool {
	b, a := parseDeclaration(before), parseDeclaration(after)
	if !b.unsigned && a.unsigned {
		return true
	}
	bf, af := family(b.base), family(a.base)
	switch {
	case bf == "text" && af == "string":
		return true
	case bf == "string" && af == "text":
		return false
	case bf == "integer" && af == "decimal", bf == "integer" && af == "float":
		return false
	case bf != af:
		return true
	}

	switch af {
	case "integer":
		return integerRank[a.base] < integerRank[b.base]
	case "text":
		return textRank[a.base] < textRank[b.base]
	case "string":
		bl, bok := b.intArg(0)
		al, aok := a.intArg(0)
		return bok && aok && al < bl
	case "decimal":
		bp, _ := b.intArg(0)
		ap, _ := a.intArg(0)
		bs, _ := b.intArg(1)
		as, _ := a.intArg(1)
		return ap < bp || as < bs
	case "float":
		return b.base == "double" && a.base != "double"
	case "enum", "set":
		kept := make(map[string]struct{}, len(a.args))
		for _, v := range a.args {
			kept[v] = struct{}{}
		}
		for _, v := range b.args {
			if _, ok := kept[v]; !ok {
				return true
			}
		}
	}
	return false
}
