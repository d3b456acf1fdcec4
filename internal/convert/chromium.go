package convert

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Chromium converts SVG by driving a remote headless Chrome over the DevTools protocol.
type Chromium struct {
	log         *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChromium connects to the browser at wsURL (a DevTools websocket or
// http debugging address). Close releases the allocator.
func NewChromium(wsURL string, log *zap.Logger) *Chromium {
	if log == nil {
		log = zap.NewNop()
	}
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	return &Chromium{log: log, allocCtx: allocCtx, allocCancel: cancel}
}

func (c *Chromium) Convert(ctx context.Context, svg []byte, size PageSize) ([]byte, error) {
	browserCtx, cancel := chromedp.NewContext(c.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			c.log.Debug(fmt.Sprintf(format, args...))
		}),
	)
	defer cancel()
	// The browser context hangs off the allocator; tie it to the request too.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	html := htmlPage(svg, size)
	w, h := size.Inches()

	var pdf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(w).
				WithPaperHeight(h).
				WithMarginTop(0).
				WithMarginRight(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithPageRanges("1").
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("chromium render: %w", ctxErr)
		}
		return nil, fmt.Errorf("chromium render: %w", err)
	}
	return pdf, nil
}

func (c *Chromium) Close() error {
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}
