package xmlstream

import "sort"

// Node is one entry of the pseudo-document: either a leaf holding the text of
// an element without child elements, or a mapping from child element name to
// node. A mapping holds at most one child per name; a later sibling with the
// same name replaces the earlier one, so repeated elements must be consumed
// through complete callbacks.
type Node struct {
	leaf     bool
	text     string
	children map[string]*Node
}

// NewLeaf returns a leaf node holding text.
func NewLeaf(text string) *Node {
	return &Node{leaf: true, text: text}
}

// NewMapping returns an empty mapping node.
func NewMapping() *Node {
	return &Node{}
}

// IsLeaf reports whether the node holds text rather than children.
func (n *Node) IsLeaf() bool {
	return n != nil && n.leaf
}

// Text returns the leaf text, or "" for a mapping.
func (n *Node) Text() string {
	if n == nil || !n.leaf {
		return ""
	}
	return n.text
}

// Child returns the named child of a mapping.
func (n *Node) Child(name string) (*Node, bool) {
	if n == nil || n.children == nil {
		return nil, false
	}
	c, ok := n.children[name]
	return c, ok
}

// ChildText returns the text of the named leaf child, or "" when absent.
func (n *Node) ChildText(name string) string {
	c, ok := n.Child(name)
	if !ok {
		return ""
	}
	return c.Text()
}

// Remove detaches and returns the named child.
func (n *Node) Remove(name string) (*Node, bool) {
	c, ok := n.Child(name)
	if ok {
		delete(n.children, name)
	}
	return c, ok
}

// Len returns the number of children held by a mapping.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return len(n.children)
}

// Names returns the child names in sorted order.
func (n *Node) Names() []string {
	names := make([]string, 0, n.Len())
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Node) set(name string, child *Node) {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	n.children[name] = child
}

// remove detaches the named child only if it is still child.
func (n *Node) remove(name string, child *Node) {
	if c, ok := n.children[name]; ok && c == child {
		delete(n.children, name)
	}
}

// seal turns a completed element without child elements into a leaf.
func (n *Node) seal(text string) {
	n.leaf = true
	n.text = text
	n.children = nil
}
