package codec

import (
	"strconv"
	"strings"
)

// Shape describes the expected structure of an encoded value. Decoding is
// shape directed: neither codec carries enough information on the wire to
// recover fixed width integer kinds or record names on its own.
type Shape struct {
	Elem  *Shape   // Seq, Set, Array
	Key   *Shape   // Map
	Val   *Shape   // Map
	Items []Shape  // Pair, Tuple, Record
	Names []string // Record field names
	Name  string   // Record type name
	Len   int      // Array
	Kind  Kind
}

// Of returns the shape for a scalar kind.
func Of(k Kind) Shape { return Shape{Kind: k} }

func SeqOf(elem Shape) Shape       { return Shape{Kind: KindSeq, Elem: &elem} }
func SetOf(elem Shape) Shape       { return Shape{Kind: KindSet, Elem: &elem} }
func MapOf(key, val Shape) Shape   { return Shape{Kind: KindMap, Key: &key, Val: &val} }
func PairOf(a, b Shape) Shape      { return Shape{Kind: KindPair, Items: []Shape{a, b}} }
func TupleOf(items ...Shape) Shape { return Shape{Kind: KindTuple, Items: items} }

// ArrayOf describes a fixed length array. The length is not encoded.
func ArrayOf(n int, elem Shape) Shape { return Shape{Kind: KindArray, Elem: &elem, Len: n} }

// Field is a named record member.
type Field struct {
	Name  string
	Shape Shape
}

// RecordOf describes a record with the given fields in declaration order.
func RecordOf(name string, fields ...Field) Shape {
	s := Shape{Kind: KindRecord, Name: name}
	for _, f := range fields {
		s.Names = append(s.Names, f.Name)
		s.Items = append(s.Items, f.Shape)
	}
	return s
}

// ShapeOf infers the shape of v. Empty sequences, sets and maps have no
// element shape; a value of that shape only decodes when it is empty.
func ShapeOf(v Value) Shape {
	switch v.kind {
	case KindSeq, KindSet:
		s := Shape{Kind: v.kind}
		if len(v.items) > 0 {
			e := ShapeOf(v.items[0])
			s.Elem = &e
		}
		return s
	case KindArray:
		s := Shape{Kind: KindArray, Len: len(v.items)}
		if len(v.items) > 0 {
			e := ShapeOf(v.items[0])
			s.Elem = &e
		}
		return s
	case KindMap:
		s := Shape{Kind: KindMap}
		if len(v.entries) > 0 {
			k, val := ShapeOf(v.entries[0].Key), ShapeOf(v.entries[0].Val)
			s.Key, s.Val = &k, &val
		}
		return s
	case KindPair, KindTuple, KindRecord:
		s := Shape{Kind: v.kind}
		for _, it := range v.items {
			s.Items = append(s.Items, ShapeOf(it))
		}
		if v.kind == KindRecord {
			s.Names = v.names
		}
		return s
	}
	return Shape{Kind: v.kind}
}

func (s Shape) String() string {
	var sb strings.Builder
	s.format(&sb)
	return sb.String()
}

func (s Shape) format(sb *strings.Builder) {
	sb.WriteString(s.Kind.String())
	switch s.Kind {
	case KindSeq, KindSet, KindArray:
		sb.WriteByte('<')
		if s.Elem != nil {
			s.Elem.format(sb)
		} else {
			sb.WriteByte('_')
		}
		if s.Kind == KindArray {
			sb.WriteString("; ")
			sb.WriteString(strconv.Itoa(s.Len))
		}
		sb.WriteByte('>')
	case KindMap:
		sb.WriteByte('<')
		if s.Key != nil && s.Val != nil {
			s.Key.format(sb)
			sb.WriteString(", ")
			s.Val.format(sb)
		} else {
			sb.WriteString("_, _")
		}
		sb.WriteByte('>')
	case KindPair, KindTuple, KindRecord:
		sb.WriteByte('<')
		for i, it := range s.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			if s.Kind == KindRecord && i < len(s.Names) {
				sb.WriteString(s.Names[i])
				sb.WriteString(": ")
			}
			it.format(sb)
		}
		sb.WriteByte('>')
	}
}
