package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/keagan/panelreel/pkg/util"
)

// Label names a stream inside a filter graph, without the surrounding
// brackets.
type Label string

// String renders the label in filter graph syntax.
func (l Label) String() string {
	return "[" + string(l) + "]"
}

// InputStream refers to a stream of a command input, e.g. "0:v".
func InputStream(index int, kind string) Label {
	return Label(strconv.Itoa(index) + ":" + kind)
}

// Arg is one filter argument. An empty Key makes it positional.
type Arg struct {
	Key   string
	Value string
}

// Pos creates a positional argument.
func Pos(v any) Arg {
	return Arg{Value: formatValue(v)}
}

// KV creates a named argument.
func KV(key string, v any) Arg {
	return Arg{Key: key, Value: formatValue(v)}
}

// Filter is a single filter with ordered arguments.
type Filter struct {
	Name string
	Args []Arg
}

// NewFilter creates a filter.
func NewFilter(name string, args ...Arg) Filter {
	return Filter{Name: name, Args: args}
}

func (f Filter) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		v := quoteValue(a.Value)
		if a.Key == "" {
			parts[i] = v
		} else {
			parts[i] = a.Key + "=" + v
		}
	}
	return f.Name + "=" + strings.Join(parts, ":")
}

// Node is a linear filter chain with its input and output labels.
type Node struct {
	Inputs  []Label
	Filters []Filter
	Outputs []Label
}

func (n Node) String() string {
	var sb strings.Builder
	for _, l := range n.Inputs {
		sb.WriteString(l.String())
	}
	for i, f := range n.Filters {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(f.String())
	}
	for _, l := range n.Outputs {
		sb.WriteString(l.String())
	}
	return sb.String()
}

// Graph is a filter graph under construction. Labels are allocated by the
// graph only, so they never collide within one render.
type Graph struct {
	nodes []Node
	next  int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NewLabel returns a label that has not been handed out before.
func (g *Graph) NewLabel() Label {
	l := Label(fmt.Sprintf("s%d", g.next))
	g.next++
	return l
}

// Add appends a node.
func (g *Graph) Add(n Node) {
	g.nodes = append(g.nodes, n)
}

// Chain adds a node reading inputs through filters into one fresh output
// label and returns that label.
func (g *Graph) Chain(inputs []Label, filters ...Filter) Label {
	out := g.NewLabel()
	g.Add(Node{Inputs: inputs, Filters: filters, Outputs: []Label{out}})
	return out
}

// Fan adds a node with n fresh output labels.
func (g *Graph) Fan(inputs []Label, n int, filters ...Filter) []Label {
	outs := make([]Label, n)
	for i := range outs {
		outs[i] = g.NewLabel()
	}
	g.Add(Node{Inputs: inputs, Filters: filters, Outputs: outs})
	return outs
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// String serializes the graph for -filter_complex.
func (g *Graph) String() string {
	parts := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ";")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return util.FormatSeconds(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// quoteValue protects expressions that contain graph separators.
func quoteValue(v string) string {
	if strings.ContainsAny(v, ",;[]'") {
		return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
	}
	return v
}
