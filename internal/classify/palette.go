package classify

import (
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// Palette maps each of the nine valid bivariate labels to a color.
type Palette struct {
	Name   string
	colors map[string]color.NRGBA
}

// NAColor fills sections whose category is not valid.
var NAColor = color.NRGBA{R: 0xbd, G: 0xbd, B: 0xbd, A: 0xff}

// DefaultPalette returns the 3x3 "DkBlue" bivariate scheme. The first label
// component (X) runs from grey to blue, the second (Y) from grey to green.
func DefaultPalette() *Palette {
	p, err := newPalette("DkBlue", map[string]string{
		"Low.Low":       "#e8e8e8",
		"Medium.Low":    "#b5c0da",
		"High.Low":      "#6c83b5",
		"Low.Medium":    "#b8d6be",
		"Medium.Medium": "#90b2b3",
		"High.Medium":   "#567994",
		"Low.High":      "#73ae80",
		"Medium.High":   "#5a9178",
		"High.High":     "#2a5a5b",
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Color returns the fill for c, or NAColor when c is not valid.
func (p *Palette) Color(c model.BivariateCategory) color.NRGBA {
	if !c.Valid() {
		return NAColor
	}
	if col, ok := p.colors[c.Label()]; ok {
		return col
	}
	return NAColor
}

// Labels returns the nine valid labels in legend order: Y major, X minor.
func Labels() []string {
	levels := []model.DensityCategory{model.Low, model.Medium, model.High}
	out := make([]string, 0, len(levels)*len(levels))
	for _, y := range levels {
		for _, x := range levels {
			out = append(out, model.BivariateCategory{X: x, Y: y}.Label())
		}
	}
	return out
}

type paletteFile struct {
	Name   string            `yaml:"name"`
	Colors map[string]string `yaml:"colors"`
}

// LoadPalette reads a palette override:
//
//	name: custom
//	colors:
//	  Low.Low: "#e8e8e8"
//	  ...
//
// All nine labels must be present.
func LoadPalette(path string) (*Palette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read palette %s", path)
	}
	var f paletteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "classify: parse palette %s", path)
	}
	if f.Name == "" {
		f.Name = "custom"
	}
	return newPalette(f.Name, f.Colors)
}

func newPalette(name string, hex map[string]string) (*Palette, error) {
	p := &Palette{Name: name, colors: make(map[string]color.NRGBA, len(hex))}
	for _, label := range Labels() {
		h, ok := hex[label]
		if !ok {
			return nil, eris.Errorf("classify: palette %q missing label %s", name, label)
		}
		c, err := parseHex(h)
		if err != nil {
			return nil, eris.Wrapf(err, "classify: palette %q label %s", name, label)
		}
		p.colors[label] = c
	}
	for label := range hex {
		if _, ok := p.colors[label]; !ok {
			return nil, eris.Errorf("classify: palette %q has unknown label %q", name, label)
		}
	}
	return p, nil
}

func parseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return color.NRGBA{}, eris.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, eris.Errorf("invalid color %q", s)
	}
	if len(s) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
