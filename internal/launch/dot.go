package launch

import (
	"io"

	"github.com/dominikbraun/graph/draw"
)

// WriteDOT writes the element graph in the DOT format.
func (p *Pipeline) WriteDOT(w io.Writer) error {
	return draw.DOT(p.g, w, draw.GraphAttribute("rankdir", "LR"))
}
