// Package watermark stamps per-copy tracking text onto every page of a PDF.
// Marks are appended as vector text on top of the existing page content, so the
// page count and page sizes of the input are preserved.
package watermark

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
)

const fontName = "Helvetica"

// Tracking line: diagonal across the page center, shrunk to fit the diagonal.
const (
	trackingPoints  = 24.0
	trackingMin     = 6.0
	trackingAngle   = 30.0
	trackingFill    = 0.8
	trackingOpacity = 0.25
	trackingGray    = 0.5
)

// Footer line: bottom-left corner, shrunk to fit the page width.
const (
	footerPoints  = 8.0
	footerMin     = 4.0
	footerMarginX = 36.0
	footerMarginY = 18.0
	footerOpacity = 0.6
	footerGray    = 0.3
)

var ErrNoPages = errors.New("document has no pages")

func init() {
	// pdfcpu otherwise creates a config directory under the user's home.
	api.DisableConfigDir()
}

// Mark is the per-copy content stamped onto each page.
type Mark struct {
	Text      string
	Token     string
	Remaining int
	Timestamp time.Time
}

// TrackingLine is the low-opacity diagonal text.
func (m Mark) TrackingLine() string {
	return fmt.Sprintf("%s | %s | %s", m.Text, m.Timestamp.UTC().Format(time.RFC3339), m.Token)
}

// FooterLine is the small identification text near the bottom-left corner.
func (m Mark) FooterLine() string {
	return fmt.Sprintf("Token: %s | Remaining prints: %d", m.Token, m.Remaining)
}

// Compositor applies marks with pdfcpu. It is safe for concurrent use.
//
// Text is written as hex strings into a content stream of our own rather than
// through pdfcpu text watermarks, which expand %p, %P, %t and %v. Tokens and
// operator text are shown byte for byte.
type Compositor struct {
	log *zap.Logger
}

func NewCompositor(log *zap.Logger) *Compositor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compositor{log: log}
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Stamp returns a copy of pdf with the tracking line and the footer line on every page.
func (c *Compositor) Stamp(ctx context.Context, pdf []byte, mark Mark) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := newConfiguration()
	conf.Cmd = model.ADDWATERMARKS
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := pctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	if pctx.PageCount == 0 {
		return nil, ErrNoPages
	}

	res, err := newOverlayResources(pctx)
	if err != nil {
		return nil, err
	}
	tracking := model.DecodeUTF8ToByte(mark.TrackingLine())
	footer := model.DecodeUTF8ToByte(mark.FooterLine())

	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stampPage(pctx, pageNr, res, tracking, footer); err != nil {
			return nil, fmt.Errorf("stamp page %d: %w", pageNr, err)
		}
	}

	var out bytes.Buffer
	if err := api.Write(pctx, &out, conf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	c.log.Debug("pdf stamped", zap.Int("pages", pctx.PageCount), zap.Int("bytes", out.Len()))
	return out.Bytes(), nil
}

// overlayResources are the shared font and graphics states referenced by every
// stamped page.
type overlayResources struct {
	font       types.IndirectRef
	trackingGS types.IndirectRef
	footerGS   types.IndirectRef
}

func newOverlayResources(pctx *model.Context) (*overlayResources, error) {
	fontDict := types.Dict(map[string]types.Object{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name(fontName),
		"Encoding": types.Name("WinAnsiEncoding"),
	})
	f, err := pctx.IndRefForNewObject(fontDict)
	if err != nil {
		return nil, fmt.Errorf("create font: %w", err)
	}
	tgs, err := pctx.IndRefForNewObject(extGState(trackingOpacity))
	if err != nil {
		return nil, fmt.Errorf("create graphics state: %w", err)
	}
	fgs, err := pctx.IndRefForNewObject(extGState(footerOpacity))
	if err != nil {
		return nil, fmt.Errorf("create graphics state: %w", err)
	}
	return &overlayResources{font: *f, trackingGS: *tgs, footerGS: *fgs}, nil
}

func extGState(opacity float64) types.Dict {
	return types.Dict(map[string]types.Object{
		"Type": types.Name("ExtGState"),
		"ca":   types.Float(opacity),
		"CA":   types.Float(opacity),
	})
}

// overlayNames are the resource names an overlay content stream refers to.
type overlayNames struct {
	font, trackingGS, footerGS string
}

func stampPage(pctx *model.Context, pageNr int, res *overlayResources, tracking, footer string) error {
	d, _, inh, err := pctx.PageDict(pageNr, false)
	if err != nil {
		return err
	}
	if d == nil || inh.MediaBox == nil {
		return fmt.Errorf("page %d not found", pageNr)
	}
	box := inh.MediaBox
	if inh.CropBox != nil {
		box = inh.CropBox
	}

	resDict := inh.Resources
	if resDict == nil {
		resDict = types.NewDict()
	}
	names := overlayNames{}
	if names.font, err = register(pctx, resDict, "Font", "PGF", res.font); err != nil {
		return err
	}
	if names.trackingGS, err = register(pctx, resDict, "ExtGState", "PGT", res.trackingGS); err != nil {
		return err
	}
	if names.footerGS, err = register(pctx, resDict, "ExtGState", "PGB", res.footerGS); err != nil {
		return err
	}
	d.Update("Resources", resDict)

	return appendContent(pctx, d, overlayContent(box, names, tracking, footer))
}

// register adds ref to the resource category under a fresh name, reusing the
// name when an earlier page sharing the same resource dict already added it.
func register(pctx *model.Context, resDict types.Dict, category, prefix string, ref types.IndirectRef) (string, error) {
	var sub types.Dict
	if o, found := resDict.Find(category); found {
		d, err := pctx.DereferenceDict(o)
		if err != nil {
			return "", fmt.Errorf("resolve %s resources: %w", category, err)
		}
		sub = d
	}
	if sub == nil {
		sub = types.NewDict()
		resDict.Update(category, sub)
	}

	for i := 0; ; i++ {
		name := prefix + strconv.Itoa(i)
		existing, found := sub.Find(name)
		if !found {
			sub.Insert(name, ref)
			return name, nil
		}
		if r, ok := existing.(types.IndirectRef); ok && r == ref {
			return name, nil
		}
	}
}

// appendContent wraps the existing page content in q/Q and appends overlay.
func appendContent(pctx *model.Context, page types.Dict, overlay []byte) error {
	var existing types.Array
	if o, found := page.Find("Contents"); found {
		switch v := o.(type) {
		case types.IndirectRef:
			obj, err := pctx.Dereference(v)
			if err != nil {
				return fmt.Errorf("resolve contents: %w", err)
			}
			if a, ok := obj.(types.Array); ok {
				existing = a
			} else {
				existing = types.Array{v}
			}
		case types.Array:
			existing = v
		}
	}

	contents := make(types.Array, 0, len(existing)+2)
	if len(existing) > 0 {
		open, err := newContentStream(pctx, []byte("q\n"))
		if err != nil {
			return err
		}
		contents = append(contents, *open)
		contents = append(contents, existing...)
		overlay = append([]byte("\nQ\n"), overlay...)
	}
	stamp, err := newContentStream(pctx, overlay)
	if err != nil {
		return err
	}
	contents = append(contents, *stamp)
	page.Update("Contents", contents)
	return nil
}

func newContentStream(pctx *model.Context, content []byte) (*types.IndirectRef, error) {
	sd, err := pctx.NewStreamDictForBuf(content)
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return pctx.IndRefForNewObject(*sd)
}

// overlayContent draws both lines. Text operands are CP1252 bytes as hex strings.
func overlayContent(box *types.Rectangle, names overlayNames, tracking, footer string) []byte {
	var b bytes.Buffer
	b.WriteString("q\n")

	w, h := box.Width(), box.Height()
	diag := math.Hypot(w, h)
	size := fitSize(tracking, trackingPoints, trackingMin, diag*trackingFill)
	tw := textWidth(tracking, size)
	rad := trackingAngle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	x := box.LL.X + w/2 - cos*tw/2
	y := box.LL.Y + h/2 - sin*tw/2
	fmt.Fprintf(&b, "/%s gs %.2f g BT /%s %.2f Tf %.5f %.5f %.5f %.5f %.2f %.2f Tm <%s> Tj ET\n",
		names.trackingGS, trackingGray, names.font, size, cos, sin, -sin, cos, x, y, hex.EncodeToString([]byte(tracking)))

	size = fitSize(footer, footerPoints, footerMin, w-2*footerMarginX)
	fmt.Fprintf(&b, "/%s gs %.2f g BT /%s %.2f Tf %.2f %.2f Td <%s> Tj ET\n",
		names.footerGS, footerGray, names.font, size, box.LL.X+footerMarginX, box.LL.Y+footerMarginY, hex.EncodeToString([]byte(footer)))

	b.WriteString("Q\n")
	return b.Bytes()
}

// fitSize returns the largest font size up to hi, and not below lo, at which
// text fits into width.
func fitSize(text string, hi, lo, width float64) float64 {
	tw := textWidth(text, hi)
	if tw <= 0 || tw <= width {
		return hi
	}
	return math.Max(lo, hi*width/tw)
}

// textWidth measures CP1252 text in Helvetica at size points.
func textWidth(text string, size float64) float64 {
	return font.TextWidth(text, fontName, 1000) * size / 1000
}
