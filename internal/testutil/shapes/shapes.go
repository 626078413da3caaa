// Package shapes is a small plug fixture: one socket and three plugs, marked
// for discovery and registrable into any linker table.
package shapes

import (
	"strconv"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/linker"
)

// ImportPath is this package's import path, the scan root for its plugs.
const ImportPath = "github.com/zjrosen/plugboard/internal/testutil/shapes"

// Shape is the fixture socket.
type Shape interface {
	Name() string
	Sides() int
}

// Metadata describes a shape in its descriptor.
func Metadata(s Shape) (component.Properties, error) {
	return component.Props("id", s.Name(), "sides", strconv.Itoa(s.Sides())), nil
}

// Circle has no corners.
//
//plug:socket Shape
type Circle struct{}

func (Circle) Name() string { return "circle" }
func (Circle) Sides() int    { return 0 }

//plug:socket Shape
type Square struct{}

func (Square) Name() string { return "square" }
func (Square) Sides() int    { return 4 }

//plug:socket Shape
type Triangle struct{}

func (*Triangle) Name() string { return "triangle" }
func (*Triangle) Sides() int    { return 3 }

// IDs of the fixture types.
var (
	SocketID   = linker.IDOf[Shape]()
	CircleID   = linker.IDOf[Circle]()
	SquareID   = linker.IDOf[Square]()
	TriangleID = linker.IDOf[Triangle]()
)

// Register adds the socket and its plugs to t.
func Register(t *linker.Table) {
	linker.RegisterSocket(t, Metadata)
	linker.RegisterPlug(t, func() Circle { return Circle{} })
	linker.RegisterPlug(t, func() Square { return Square{} })
	linker.RegisterPlug(t, func() *Triangle { return &Triangle{} })
}

// Table returns a fresh table holding only the fixture.
func Table() *linker.Table {
	t := linker.NewTable()
	Register(t)
	return t
}
