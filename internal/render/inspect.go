package render

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"

	"github.com/nikhilbhutani/esignature/internal/apperr"
)

// letter is used for pages that declare no usable MediaBox.
var letter = Dim{W: 612, H: 792}

// Info describes a PDF's pages.
type Info struct {
	Pages []Dim
}

func (i *Info) PageCount() int { return len(i.Pages) }

// Inspect reads the page count and the size of every page. MediaBox is
// inherited from ancestor page tree nodes.
func Inspect(data []byte) (info *Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, apperr.Validationf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Validationf("not a readable PDF: %v", err)
	}

	n := reader.NumPage()
	if n <= 0 {
		return nil, apperr.Validation("PDF has no pages")
	}

	info = &Info{Pages: make([]Dim, 0, n)}
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			return nil, apperr.Validationf("malformed PDF: page %d missing from page tree", i)
		}
		info.Pages = append(info.Pages, boxDim(mediaBox(page.V)))
	}
	return info, nil
}

// mediaBox returns the nearest MediaBox walking up from a page through its
// Parent chain.
func mediaBox(node pdf.Value) pdf.Value {
	for depth := 0; !node.IsNull() && depth < 64; depth++ {
		if box := node.Key("MediaBox"); !box.IsNull() {
			return box
		}
		node = node.Key("Parent")
	}
	return pdf.Value{}
}

func boxDim(box pdf.Value) Dim {
	if box.Len() < 4 {
		return letter
	}
	w := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
	h := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
	if w == 0 || h == 0 {
		return letter
	}
	return Dim{W: w, H: h}
}

// CheckPage validates a 1-indexed page number against info.
func (i *Info) CheckPage(page int) (Dim, error) {
	if page < 1 || page > len(i.Pages) {
		return Dim{}, fmt.Errorf("%w: page %d not in [1, %d]", ErrPageOutOfRange, page, len(i.Pages))
	}
	return i.Pages[page-1], nil
}
