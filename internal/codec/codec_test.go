package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/plugboard/internal/markup"
)

// point describes itself.
type point struct {
	X, Y string
}

func (p *point) ReadMarkup(r markup.Reader) error {
	return markup.OpenClose(r, "point", func() error {
		attrs, err := r.Attributes()
		if err != nil {
			return err
		}
		if p.X, err = attrs.Require("x"); err != nil {
			return err
		}
		p.Y, err = attrs.Require("y")
		return err
	})
}

func (p *point) WriteMarkup(w markup.Writer) error {
	return markup.OpenClose(w, "point", func() error {
		return w.Attributes(markup.Attr{Name: "x", Value: p.X}, markup.Attr{Name: "y", Value: p.Y})
	})
}

var pointMapping = FromInPlace(func() *point { return &point{} })

// path is mapped by free functions.
type path struct {
	Label  string
	Points []*point
}

var pathMapping = Funcs(
	func(r markup.Reader) (path, error) {
		var p path
		err := markup.OpenClose(r, "path", func() error {
			attrs, err := r.Attributes()
			if err != nil {
				return err
			}
			p.Label, _ = attrs.Get("label")
			return ReadRepeated(r, pointMapping, func(pt *point) error {
				p.Points = append(p.Points, pt)
				return nil
			})
		})
		return p, err
	},
	func(p path, w markup.Writer) error {
		return markup.OpenClose(w, "path", func() error {
			if err := w.Attributes(markup.Attr{Name: "label", Value: p.Label}); err != nil {
				return err
			}
			for _, pt := range p.Points {
				if err := pointMapping.Write(pt, w); err != nil {
					return err
				}
			}
			return nil
		})
	},
)

// === Unit Tests: Mappings ===

func TestFromInPlace_RoundTrip(t *testing.T) {
	text, err := ToString(markup.Compact, pointMapping, &point{X: "1", Y: "2"})
	require.NoError(t, err)
	require.Equal(t, `<point x="1" y="2"/>`, text)

	p, err := FromString(markup.Compact, pointMapping, text)
	require.NoError(t, err)
	require.Equal(t, &point{X: "1", Y: "2"}, p)
}

func TestFromInPlace_FreshValuePerRead(t *testing.T) {
	a, err := FromString(markup.Compact, pointMapping, `<point x="1" y="1"/>`)
	require.NoError(t, err)
	b, err := FromString(markup.Compact, pointMapping, `<point x="2" y="2"/>`)
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Equal(t, "1", a.X)
}

func TestFuncs_PrettyText(t *testing.T) {
	p := path{Label: "zig", Points: []*point{{"0", "0"}, {"1", "1"}}}
	text, err := ToString(markup.Pretty, pathMapping, p)
	require.NoError(t, err)
	require.Equal(t, "<path label=\"zig\">\n\t<point x=\"0\" y=\"0\"/>\n\t<point x=\"1\" y=\"1\"/>\n</path>", text)

	back, err := FromString(markup.Pretty, pathMapping, text)
	require.NoError(t, err)
	require.Equal(t, p, back)
}

func TestReadRepeated_AddErrorStops(t *testing.T) {
	stop := errors.New("stop")
	r := markup.Compact.NewReader(strings.NewReader(`<path><point x="1" y="1"/><point x="2" y="2"/></path>`))
	require.NoError(t, r.Open("path"))
	calls := 0
	err := ReadRepeated(r, pointMapping, func(*point) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestFromString_MissingAttribute(t *testing.T) {
	_, err := FromString(markup.Compact, pointMapping, `<point x="1"/>`)
	require.ErrorIs(t, err, markup.ErrMissingAttribute)
}

func TestCopy(t *testing.T) {
	orig := path{Label: "a\nb", Points: []*point{{"1", "2"}}}
	cp, err := Copy(pathMapping, orig)
	require.NoError(t, err)
	require.Equal(t, orig, cp)
	require.NotSame(t, orig.Points[0], cp.Points[0])
}

// === Property Tests ===

func TestProperty_ConverterIsStable(t *testing.T) {
	str := rapid.StringMatching(`[a-zA-Z0-9 <>&"'\n.]{0,10}`)
	for _, f := range []markup.Format{markup.Compact, markup.Pretty} {
		conv := NewConverter(f, pathMapping)
		t.Run(f.Name, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				p := path{Label: str.Draw(t, "label")}
				n := rapid.IntRange(0, 4).Draw(t, "n")
				for i := 0; i < n; i++ {
					p.Points = append(p.Points, &point{X: str.Draw(t, "x"), Y: str.Draw(t, "y")})
				}

				text, err := conv.Convert(p)
				require.NoError(t, err)
				back, err := conv.Parse(text)
				require.NoError(t, err)
				again, err := conv.Convert(back)
				require.NoError(t, err)
				require.Equal(t, text, again)
				require.Equal(t, p, back)
			})
		})
	}
}
