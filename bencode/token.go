package bencode

import "fmt"

// Kind identifies the type of a Token.
type Kind int

const (
	Integer Kind = iota + 1
	ByteString
	ListStart
	ListEnd
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case ByteString:
		return "string"
	case ListStart:
		return "list start"
	case ListEnd:
		return "list end"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Token is one self-delimiting wire value.
// Int is set for Integer tokens and Bytes for ByteString tokens.
type Token struct {
	Kind  Kind
	Int   int64
	Bytes []byte
}

func Int(n int64) Token        { return Token{Kind: Integer, Int: n} }
func String(b []byte) Token    { return Token{Kind: ByteString, Bytes: b} }
func Text(s string) Token      { return Token{Kind: ByteString, Bytes: []byte(s)} }
func StartList() Token         { return Token{Kind: ListStart} }
func EndList() Token           { return Token{Kind: ListEnd} }
func (t Token) String() string { return fmt.Sprintf("%s(%d,%q)", t.Kind, t.Int, t.Bytes) }
