// Package passrender draws printable gate passes.
package passrender

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jung-kurt/gofpdf"
)

const (
	glyphCells = 21
	glyphPx    = 252
)

// Pass is the printable content of one gate pass.
type Pass struct {
	Title       string
	StudentName string
	RollNumber  string
	HostelBlock string
	Floor       string
	RoomNumber  string
	Kind        string
	Direction   string
	Purpose     string
	Token       string
	ValidFrom   time.Time
	ValidUntil  time.Time
}

// Renderer renders gate passes into single page PDFs.
type Renderer struct {
	location *time.Location
}

// NewRenderer constructs a renderer printing times in loc (UTC when nil).
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{location: loc}
}

// Render creates the pass PDF with a token glyph for visual matching at the gate.
func (r *Renderer) Render(p Pass) ([]byte, error) {
	if p.Token == "" {
		return nil, fmt.Errorf("pass requires a token")
	}
	glyph, err := Glyph(p.Token)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()

	title := p.Title
	if title == "" {
		title = "Hostel Gate Pass"
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, strings.ToUpper(p.Direction), "", 1, "C", false, 0, "")
	pdf.Ln(3)

	rows := [][2]string{
		{"Student", p.StudentName},
		{"Roll No.", p.RollNumber},
		{"Block / Floor", strings.Trim(p.HostelBlock+" / "+p.Floor, " /")},
		{"Room", p.RoomNumber},
		{"Permission", p.Kind},
		{"Purpose", p.Purpose},
		{"Valid from", r.format(p.ValidFrom)},
		{"Valid until", r.format(p.ValidUntil)},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(35, 7, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 7, row[1], "1", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("glyph", opts, bytes.NewReader(glyph))
	pageW, _ := pdf.GetPageSize()
	size := 50.0
	pdf.ImageOptions("glyph", (pageW-size)/2, pdf.GetY(), size, size, true, opts, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Courier", "", 6)
	pdf.MultiCell(0, 3, p.Token, "", "C", false)

	if pdf.Err() {
		return nil, fmt.Errorf("render pass: %w", pdf.Error())
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pass: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(r.location).Format("02 Jan 2006 15:04")
}

// Glyph draws a mirrored identicon of the token digest as a PNG.
func Glyph(token string) ([]byte, error) {
	sum := sha256.Sum256([]byte(token))
	ink := color.NRGBA{R: 20, G: 20, B: 20, A: 255}
	img := imaging.New(glyphCells, glyphCells, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	half := (glyphCells + 1) / 2
	bit := 0
	for y := 1; y < glyphCells-1; y++ {
		for x := 1; x < half; x++ {
			if sum[(bit/8)%len(sum)]&(1<<(bit%8)) != 0 {
				img.SetNRGBA(x, y, ink)
				img.SetNRGBA(glyphCells-1-x, y, ink)
			}
			bit++
		}
	}
	drawBorder(img, ink)

	scaled := imaging.Resize(img, glyphPx, glyphPx, imaging.NearestNeighbor)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, scaled, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode glyph: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBorder(img *image.NRGBA, ink color.NRGBA) {
	last := glyphCells - 1
	for i := 0; i <= last; i++ {
		img.SetNRGBA(i, 0, ink)
		img.SetNRGBA(i, last, ink)
		img.SetNRGBA(0, i, ink)
		img.SetNRGBA(last, i, ink)
	}
}
