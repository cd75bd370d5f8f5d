package inspect

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeKind identifies the variant held by a Node
type NodeKind int

const (
	// ScalarNode is a rendered primitive or sentinel string
	ScalarNode NodeKind = iota
	// SequenceNode is an ordered list of nodes
	SequenceNode
	// MappingNode is an ordered name -> node mapping
	MappingNode
)

// String returns the string representation of the NodeKind
func (k NodeKind) String() string {
	switch k {
	case ScalarNode:
		return "scalar"
	case SequenceNode:
		return "sequence"
	case MappingNode:
		return "mapping"
	default:
		return "unknown"
	}
}

// Sentinel scalars produced by the formatter
const (
	NullText           = "<null>"
	UnreadableText     = "<unreadable memory>"
	MaxDepthText       = "<max recursion depth reached>"
	InvalidPointerText = "<invalid pointer>"
	UnavailableText    = "<unavailable>"
	UnhandledSmartText = "<unhandled smart pointer>"
	NullptrText        = "nullptr"
	NullPointerText    = "NULL"
)

// Node is the serializable form of a formatted value. Exactly one of the
// variants is populated, selected by Kind. Nodes never reference their parent.
type Node struct {
	Kind  NodeKind
	Text  string
	Items []Node
	Keys  []string
	Vals  []Node
}

// Scalar returns a scalar node
func Scalar(text string) Node {
	return Node{Kind: ScalarNode, Text: text}
}

// Sequence returns a sequence node holding items
func Sequence(items ...Node) Node {
	if items == nil {
		items = []Node{}
	}
	return Node{Kind: SequenceNode, Items: items}
}

// Mapping returns an empty mapping node
func Mapping() Node {
	return Node{Kind: MappingNode, Keys: []string{}, Vals: []Node{}}
}

// Set adds or replaces a key in a mapping node, keeping first-insertion order.
func (n *Node) Set(key string, val Node) {
	for i, k := range n.Keys {
		if k == key {
			n.Vals[i] = val
			return
		}
	}
	n.Keys = append(n.Keys, key)
	n.Vals = append(n.Vals, val)
}

// Get looks up a key in a mapping node
func (n Node) Get(key string) (Node, bool) {
	for i, k := range n.Keys {
		if k == key {
			return n.Vals[i], true
		}
	}
	return Node{}, false
}

// Len returns the number of children of a composite node, 0 for scalars
func (n Node) Len() int {
	switch n.Kind {
	case SequenceNode:
		return len(n.Items)
	case MappingNode:
		return len(n.Keys)
	}
	return 0
}

// Depth returns the nesting depth of the tree; a scalar has depth 0.
func (n Node) Depth() int {
	var children []Node
	switch n.Kind {
	case SequenceNode:
		children = n.Items
	case MappingNode:
		children = n.Vals
	default:
		return 0
	}
	max := 0
	for _, c := range children {
		if d := c.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// Equal reports whether two trees are identical, including mapping order
func (n Node) Equal(o Node) bool {
	if n.Kind != o.Kind {
		return false
	}
	switch n.Kind {
	case ScalarNode:
		return n.Text == o.Text
	case SequenceNode:
		if len(n.Items) != len(o.Items) {
			return false
		}
		for i := range n.Items {
			if !n.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	case MappingNode:
		if len(n.Keys) != len(o.Keys) {
			return false
		}
		for i := range n.Keys {
			if n.Keys[i] != o.Keys[i] || !n.Vals[i].Equal(o.Vals[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes scalars as strings, sequences as arrays and mappings
// as objects whose keys appear in insertion order.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case ScalarNode:
		return json.Marshal(n.Text)
	case SequenceNode:
		if len(n.Items) == 0 {
			return []byte("[]"), nil
		}
		return json.Marshal(n.Items)
	case MappingNode:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range n.Keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			val, err := n.Vals[i].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("cannot marshal node of kind %v", n.Kind)
}

// UnmarshalJSON decodes a document written by MarshalJSON. Object key order is
// preserved; non-string primitives are kept as their JSON text.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := decodeNode(dec)
	if err != nil {
		return err
	}
	*n = node
	return nil
}

func decodeNode(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return Node{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			seq := Sequence()
			for dec.More() {
				item, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				seq.Items = append(seq.Items, item)
			}
			_, err := dec.Token()
			return seq, err
		case '{':
			m := Mapping()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Node{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Node{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				m.Set(key, val)
			}
			_, err := dec.Token()
			return m, err
		}
		return Node{}, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return Scalar(t), nil
	case json.Number:
		return Scalar(t.String()), nil
	case bool:
		return Scalar(fmt.Sprintf("%t", t)), nil
	case nil:
		return Scalar("null"), nil
	}
	return Node{}, fmt.Errorf("unexpected token %v", tok)
}
