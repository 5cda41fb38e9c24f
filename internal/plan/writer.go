package plan

import (
	"context"
	"io"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// Writer is an applier that writes the plan document instead of
// provisioning anything.
type Writer struct {
	W      io.Writer
	Format Format
}

var _ topology.Applier = (*Writer)(nil)

// Apply implements topology.Applier.
func (w *Writer) Apply(_ context.Context, g *topology.Graph) error {
	return New(g).Encode(w.W, w.Format)
}
