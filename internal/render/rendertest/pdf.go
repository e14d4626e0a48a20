// Package rendertest builds small PDFs for tests.
package rendertest

import (
	"bytes"
	"fmt"
	"strings"
)

// MinimalPDF returns a document with the given number of blank pages. The
// MediaBox lives on the page tree root so pages inherit it.
func MinimalPDF(pages int, w, h float64) []byte {
	sizes := make([][2]float64, pages)
	return build(sizes, [2]float64{w, h})
}

// PDFWithSizes returns a document whose pages each declare their own
// MediaBox.
func PDFWithSizes(sizes ...[2]float64) []byte {
	return build(sizes, [2]float64{})
}

func build(sizes [][2]float64, inherited [2]float64) []byte {
	const content = "0.5 w 10 10 m 60 10 l S\n"

	var objs []string
	kids := make([]string, len(sizes))
	firstPage := 4
	for i := range sizes {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+i)
	}

	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	pagesDict := fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d", strings.Join(kids, " "), len(sizes))
	if inherited[0] > 0 {
		pagesDict += fmt.Sprintf(" /MediaBox [0 0 %g %g]", inherited[0], inherited[1])
	}
	objs = append(objs, pagesDict+" >>")
	objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(content), content))
	for _, s := range sizes {
		page := "<< /Type /Page /Parent 2 0 R /Resources << >> /Contents 3 0 R"
		if s[0] > 0 {
			page += fmt.Sprintf(" /MediaBox [0 0 %g %g]", s[0], s[1])
		}
		objs = append(objs, page+" >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}
