package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var pdfcpuInit sync.Once

func pdfConfig() *model.Configuration {
	pdfcpuInit.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// stampImage is an image placed with its lower-left corner at At, scaled
// by Scale from its pixel size to points.
type stampImage struct {
	PNG   []byte
	At    Point
	Scale float64
}

func (s stampImage) description() string {
	return fmt.Sprintf("position:bl, offset:%d %d, scalefactor:%s abs, rotation:0, opacity:1",
		int(math.Round(s.At.X)), int(math.Round(s.At.Y)),
		strconv.FormatFloat(s.Scale, 'f', 4, 64))
}

// stamp draws every image on top of the given page and returns the new
// document. src is not modified.
func stamp(src []byte, page int, images ...stampImage) ([]byte, error) {
	conf := pdfConfig()
	pages := []string{strconv.Itoa(page)}
	cur := src
	for _, img := range images {
		wm, err := api.ImageWatermarkForReader(bytes.NewReader(img.PNG), img.description(), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("build stamp: %w", err)
		}
		var out bytes.Buffer
		if err := api.AddWatermarks(bytes.NewReader(cur), &out, pages, wm, conf); err != nil {
			return nil, fmt.Errorf("apply stamp: %w", err)
		}
		cur = out.Bytes()
	}
	return cur, nil
}

// fitInto scales an image to fit inside r and centres it there.
func fitInto(data []byte, r Rect) (stampImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return stampImage{}, fmt.Errorf("decode signature image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return stampImage{}, fmt.Errorf("signature image has no pixels")
	}
	scale := math.Min(r.W/float64(cfg.Width), r.H/float64(cfg.Height))
	w, h := float64(cfg.Width)*scale, float64(cfg.Height)*scale
	return stampImage{
		PNG:   data,
		At:    Point{X: r.X + (r.W-w)/2, Y: r.Y + (r.H-h)/2},
		Scale: scale,
	}, nil
}
