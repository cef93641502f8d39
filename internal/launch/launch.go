// Package launch parses launch descriptions, the textual pipelines attached to mount points.
//
// A launch description is a list of elements linked with '!':
//
//	videotestsrc pattern=ball ! videoconvert ! x264enc ! rtph264pay name=pay0 pt=96
//
// Chains that aren't linked to each other describe additional streams and
// can be grouped with parentheses. Elements can be referenced by name with
// "name.", so that a demuxer can feed a chain declared later.
package launch

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/netlab/rtspserver/pkg/testsrc"
)

// defaults of the sources.
const (
	DefaultWidth            = 320
	DefaultHeight           = 240
	DefaultFPS              = 15
	DefaultSamplesPerBuffer = 160
)

// MaxMTU is the biggest accepted mtu of payloaders, that is the
// maximum payload of a UDP packet over Ethernet.
const MaxMTU = 1472

var payloaderName = regexp.MustCompile(`^pay([0-9]+)$`)

// Codec is the codec of a stream.
type Codec int

// codecs.
const (
	CodecH264 Codec = iota
	CodecPCMU
	CodecPCMA
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecPCMU:
		return "PCMU"
	case CodecPCMA:
		return "PCMA"
	}
	return "unknown"
}

// VideoTestSource is a videotestsrc element.
type VideoTestSource struct {
	Pattern    testsrc.Pattern
	Width      int
	Height     int
	FPSNum     int
	FPSDen     int
	IsLive     bool
	NumBuffers int
}

// AudioTestSource is an audiotestsrc element.
type AudioTestSource struct {
	Frequency        float64
	Volume           float64
	SamplesPerBuffer int
	IsLive           bool
}

// FileSource is a filesrc element followed by a demuxer.
type FileSource struct {
	Location string
}

// Stream is a chain that ends with a payloader.
type Stream struct {
	// N of the payN payloader name.
	Index int

	// *VideoTestSource, *AudioTestSource or *FileSource.
	Source interface{}

	Codec          Codec
	PayloadType    uint8
	MTU            int
	ConfigInterval int

	// elements of the chain, from the source to the payloader.
	Elements []string
}

// Pipeline is a parsed launch description.
type Pipeline struct {
	Streams []*Stream

	g graph.Graph[int, *element]
}

type endpoint struct {
	elem *element
	ref  string
}

type link struct {
	from endpoint
	to   endpoint
}

type parser struct {
	elements []*element
	links    []link
}

func (p *parser) newElement(factory string) (*element, error) {
	def, ok := elementDefs[factory]
	if !ok {
		return nil, fmt.Errorf("no element '%s'", factory)
	}

	e := &element{
		index:   len(p.elements),
		factory: factory,
		props:   make(map[string]string),
		def:     def,
	}
	p.elements = append(p.elements, e)
	return e, nil
}

func (p *parser) parse(tokens []token) error {
	var prev *endpoint
	linkPending := false
	depth := 0

	for _, tok := range tokens {
		switch tok.typ {
		case tokenBinOpen:
			if linkPending {
				return fmt.Errorf("links into bins are not supported")
			}
			depth++
			prev = nil

		case tokenBinClose:
			if linkPending {
				return fmt.Errorf("link without destination")
			}
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced parentheses")
			}
			prev = nil

		case tokenLink:
			if prev == nil || linkPending {
				return fmt.Errorf("link without source")
			}
			linkPending = true

		case tokenWord:
			var cur *endpoint

			switch {
			case isCapsString(tok.val):
				e, _ := p.newElement("capsfilter")
				e.props["caps"] = tok.val
				cur = &endpoint{elem: e}

			case strings.HasSuffix(tok.val, ".") && !strings.Contains(tok.val, "="):
				cur = &endpoint{ref: strings.TrimSuffix(tok.val, ".")}

			case strings.Contains(tok.val, "="):
				if linkPending {
					return fmt.Errorf("link without destination")
				}
				if prev == nil || prev.elem == nil {
					return fmt.Errorf("property '%s' without element", tok.val)
				}

				kv := strings.SplitN(tok.val, "=", 2)
				err := prev.elem.setProp(kv[0], kv[1])
				if err != nil {
					return err
				}
				continue

			default:
				e, err := p.newElement(tok.val)
				if err != nil {
					return err
				}
				cur = &endpoint{elem: e}
			}

			if linkPending {
				p.links = append(p.links, link{from: *prev, to: *cur})
				linkPending = false
			}
			prev = cur
		}
	}

	if linkPending {
		return fmt.Errorf("link without destination")
	}

	if depth != 0 {
		return fmt.Errorf("unbalanced parentheses")
	}

	if len(p.elements) == 0 {
		return fmt.Errorf("empty pipeline")
	}

	return nil
}

func (p *parser) resolve(ep endpoint) (*element, error) {
	if ep.elem != nil {
		return ep.elem, nil
	}

	for _, e := range p.elements {
		if e.name == ep.ref {
			return e, nil
		}
	}

	return nil, fmt.Errorf("no element named '%s'", ep.ref)
}

func (p *parser) buildGraph() (graph.Graph[int, *element], error) {
	g := graph.New(func(e *element) int { return e.index }, graph.Directed(), graph.PreventCycles())

	names := make(map[string]struct{})

	for _, e := range p.elements {
		if e.name != "" {
			if _, ok := names[e.name]; ok {
				return nil, fmt.Errorf("duplicate element name '%s'", e.name)
			}
			names[e.name] = struct{}{}
		}

		err := g.AddVertex(e, graph.VertexAttribute("label", e.String()))
		if err != nil {
			return nil, err
		}
	}

	for _, l := range p.links {
		from, err := p.resolve(l.from)
		if err != nil {
			return nil, err
		}

		to, err := p.resolve(l.to)
		if err != nil {
			return nil, err
		}

		err = g.AddEdge(from.index, to.index)
		if err != nil {
			switch {
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, fmt.Errorf("linking '%s' to '%s' creates a cycle", from, to)

			case errors.Is(err, graph.ErrEdgeAlreadyExists):
				return nil, fmt.Errorf("'%s' is linked to '%s' twice", from, to)
			}
			return nil, err
		}
	}

	return g, nil
}

func capsFromName(typ string) (caps, bool) {
	for _, c := range []caps{capsVideoRaw, capsAudioRaw, capsMPEGTS, capsH264, capsPCMU, capsPCMA} {
		if c.String() == typ {
			return c, true
		}
	}
	return capsAny, false
}

// negotiate checks that linked elements exchange compatible data
// and returns the caps produced by each element.
func negotiate(g graph.Graph[int, *element], order []int, preds map[int]map[int]graph.Edge[int]) (map[int]caps, error) {
	out := make(map[int]caps)

	for _, id := range order {
		e, err := g.Vertex(id)
		if err != nil {
			return nil, err
		}

		if e.def.kind == kindSource {
			out[id] = e.def.out
			continue
		}

		var in caps
		for predID := range preds[id] {
			in = out[predID]
		}

		want := e.def.in
		produced := e.def.out

		if e.factory == "capsfilter" {
			typ, _ := capsFields(e.props["caps"])
			if c, ok := capsFromName(typ); ok {
				want = c
				produced = c
			}
		}

		if want != capsAny && in != capsAny && want != in {
			return nil, fmt.Errorf("'%s' can't receive %v", e, in)
		}

		if produced == capsAny {
			produced = in
		}
		out[id] = produced
	}

	return out, nil
}

func (p *parser) checkTopology(preds map[int]map[int]graph.Edge[int], succs map[int]map[int]graph.Edge[int]) error {
	for _, e := range p.elements {
		in := len(preds[e.index])
		out := len(succs[e.index])

		switch {
		case e.def.kind == kindSource && in != 0:
			return fmt.Errorf("source '%s' can't have inputs", e)

		case e.def.kind != kindSource && in == 0:
			return fmt.Errorf("'%s' is not linked to any source", e)

		case in > 1:
			return fmt.Errorf("'%s' has multiple inputs", e)

		case e.def.kind == kindPayloader && out != 0:
			return fmt.Errorf("payloader '%s' can't have outputs", e)

		case e.def.kind != kindPayloader && out == 0:
			return fmt.Errorf("'%s' is not linked to a payloader", e)

		case e.def.kind != kindDemuxer && out > 1:
			return fmt.Errorf("'%s' has multiple outputs", e)
		}
	}

	return nil
}

func (p *parser) buildStream(g graph.Graph[int, *element], pay *element,
	preds map[int]map[int]graph.Edge[int],
) (*Stream, error) {
	m := payloaderName.FindStringSubmatch(pay.name)
	if m == nil {
		return nil, fmt.Errorf("payloader '%s' must be named payN", pay)
	}

	index, _ := strconv.Atoi(m[1])

	// walk back to the source
	chain := []*element{pay}
	for cur := pay; len(preds[cur.index]) != 0; {
		for predID := range preds[cur.index] {
			var err error
			cur, err = g.Vertex(predID)
			if err != nil {
				return nil, err
			}
		}
		chain = append([]*element{cur}, chain...)
	}

	st := &Stream{
		Index: index,
	}

	var err error
	src := chain[0]

	switch src.factory {
	case "videotestsrc":
		st.Source, err = src.videoTestSource()
	case "audiotestsrc":
		st.Source, err = src.audioTestSource()
	case "filesrc":
		st.Source, err = src.fileSource()
	}
	if err != nil {
		return nil, err
	}

	for _, e := range chain {
		st.Elements = append(st.Elements, e.factory)

		if e.factory == "capsfilter" {
			err = applyCaps(st.Source, e.props["caps"])
			if err != nil {
				return nil, err
			}
		}
	}

	// packets are written into buffers of the maximum UDP payload size.
	maxMTU := MaxMTU

	switch pay.factory {
	case "rtph264pay":
		st.Codec = CodecH264
		pt, err := pay.intProp("pt", 96, 96, 127)
		if err != nil {
			return nil, err
		}
		st.PayloadType = uint8(pt)

		st.ConfigInterval, err = pay.intProp("config-interval", 0, -1, 3600)
		if err != nil {
			return nil, err
		}

	case "rtppcmupay":
		st.Codec = CodecPCMU
		pt, err := pay.intProp("pt", 0, 0, 127)
		if err != nil {
			return nil, err
		}
		if pt != 0 && pt < 96 {
			return nil, fmt.Errorf("invalid payload type %d for PCMU", pt)
		}
		st.PayloadType = uint8(pt)

	case "rtppcmapay":
		st.Codec = CodecPCMA
		pt, err := pay.intProp("pt", 8, 0, 127)
		if err != nil {
			return nil, err
		}
		if pt != 8 && pt < 96 {
			return nil, fmt.Errorf("invalid payload type %d for PCMA", pt)
		}
		st.PayloadType = uint8(pt)
	}

	st.MTU, err = pay.intProp("mtu", 0, 28, maxMTU)
	if err != nil {
		return nil, err
	}

	return st, nil
}

// Parse parses a launch description.
func Parse(s string) (*Pipeline, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	p := &parser{}
	err = p.parse(tokens)
	if err != nil {
		return nil, err
	}

	g, err := p.buildGraph()
	if err != nil {
		return nil, err
	}

	preds, err := g.PredecessorMap()
	if err != nil {
		return nil, err
	}

	succs, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	err = p.checkTopology(preds, succs)
	if err != nil {
		return nil, err
	}

	order, err := graph.StableTopologicalSort(g, func(a, b int) bool { return a < b })
	if err != nil {
		return nil, err
	}

	_, err = negotiate(g, order, preds)
	if err != nil {
		return nil, err
	}

	pl := &Pipeline{g: g}
	used := make(map[int]struct{})

	for _, id := range order {
		e, _ := g.Vertex(id)
		if e.def.kind != kindPayloader {
			continue
		}

		st, err := p.buildStream(g, e, preds)
		if err != nil {
			return nil, err
		}

		if _, ok := used[st.Index]; ok {
			return nil, fmt.Errorf("duplicate payloader pay%d", st.Index)
		}
		used[st.Index] = struct{}{}

		pl.Streams = append(pl.Streams, st)
	}

	sort.Slice(pl.Streams, func(i, j int) bool {
		return pl.Streams[i].Index < pl.Streams[j].Index
	})

	for i, st := range pl.Streams {
		if st.Index != i {
			return nil, fmt.Errorf("missing payloader pay%d", i)
		}
	}

	return pl, nil
}
