package omm

import (
	"encoding/xml"
	"strconv"
)

// node is one AXI element. Requests and responses share the shape: an
// element name, flat attributes and nested records.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []node     `xml:",any"`
}

// msg builds a node from alternating attribute names and values.
func msg(name string, kv ...string) node {
	n := node{XMLName: xml.Name{Local: name}}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: kv[i]}, Value: kv[i+1]})
	}
	return n
}

func (n node) with(children ...node) node {
	n.Children = append(n.Children, children...)
	return n
}

func (n node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n node) intAttr(name string) int {
	v, _ := strconv.Atoi(n.attr(name))
	return v
}

func (n *node) setAttr(name, value string) {
	for i, a := range n.Attrs {
		if a.Name.Local == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

func (n node) children(name string) []node {
	var out []node
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			out = append(out, c)
		}
	}
	return out
}
