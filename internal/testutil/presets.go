package testutil

import (
	"github.com/zjrosen/plugboard/internal/testutil/shapes"
)

// WithShapes adds descriptors for the three shapes fixture plugs, as the
// generator would describe them.
func (b *ArtifactBuilder) WithShapes() *ArtifactBuilder {
	return b.
		WithPlug(shapes.CircleID, shapes.SocketID, Prop("id", "circle"), Prop("sides", "0")).
		WithPlug(shapes.SquareID, shapes.SocketID, Prop("id", "square"), Prop("sides", "4")).
		WithPlug(shapes.TriangleID, shapes.SocketID, Prop("id", "triangle"), Prop("sides", "3"))
}

// WithBrokenShape adds a descriptor whose implementation is not registered
// in any table.
func (b *ArtifactBuilder) WithBrokenShape() *ArtifactBuilder {
	return b.WithPlug(shapes.ImportPath+".Hexagon", shapes.SocketID, Prop("id", "hexagon"), Prop("sides", "6"))
}
