package token

type Type int

const (
	EOF Type = iota
	Newline
	Ident
	Number
	String
	Let
	Const
	Func
	For
	In
	Return
	LParen
	RParen
	LBrace
	RBrace
	Comma
	Eq
	Dots
	Amp
)

var KeywordMap = map[string]Type{
	"let":    Let,
	"const":  Const,
	"func":   Func,
	"for":    For,
	"in":     In,
	"return": Return,
}

// Reverse mapping from Type to the keyword string
var TypeStrings = map[Type]string{
	EOF:     "end of file",
	Newline: "newline",
	Ident:   "identifier",
	Number:  "number",
	String:  "string",
	LParen:  "'('",
	RParen:  "')'",
	LBrace:  "'{'",
	RBrace:  "'}'",
	Comma:   "','",
	Eq:      "'='",
	Dots:    "'..'",
	Amp:     "'&'",
}

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = "'" + str + "'"
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return "unknown token"
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}
