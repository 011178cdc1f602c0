package web

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"multisvg/content"
	"multisvg/models"
	"multisvg/workflow"

	"github.com/a-h/templ"
)

// page accumulates the first write error so components read top to bottom.
type page struct {
	ctx context.Context
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *page) rawf(format string, args ...interface{}) {
	p.raw(fmt.Sprintf(format, args...))
}

func (p *page) child(c templ.Component) {
	if p.err == nil {
		p.err = c.Render(p.ctx, p.w)
	}
}

func component(fn func(p *page)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{ctx: ctx, w: w}
		fn(p)
		return p.err
	})
}

type layoutOpts struct {
	Title       string
	RefreshSecs int
}

func Layout(site *content.Site, opts layoutOpts, body templ.Component) templ.Component {
	return component(func(p *page) {
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		if opts.RefreshSecs > 0 {
			p.rawf(`<meta http-equiv="refresh" content="%d">`, opts.RefreshSecs)
		}
		p.raw(`<title>`)
		p.text(opts.Title)
		p.raw(`</title><link rel="stylesheet" href="/static/site.css"></head><body>`)

		p.raw(`<header class="appbar"><a class="logo" href="/">`)
		p.text(site.Brand)
		p.raw(`</a><nav>`)
		p.raw(`<a href="/">Products</a><a href="/documentation">Documentation</a><a href="/converter">Converter</a>`)
		p.raw(`</nav><a class="cta" href="/#contactForm">Get Started</a></header>`)

		p.raw(`<main>`)
		p.child(body)
		p.raw(`</main>`)

		p.raw(`<footer><p>&copy; `)
		p.text(strconv.Itoa(time.Now().Year()))
		p.raw(` `)
		p.text(site.Brand + " Machine")
		p.raw(`</p></footer></body></html>`)
	})
}

func Landing(site *content.Site, contactSent bool) templ.Component {
	return component(func(p *page) {
		p.raw(`<section class="hero"><h1>`)
		p.text(site.Hero.Title)
		p.raw(`</h1><p class="lead">`)
		p.text(site.Hero.Subtitle)
		p.raw(`</p><a class="button" href="#features">`)
		p.text(site.Hero.CTA)
		p.raw(`</a></section>`)

		p.raw(`<div id="features">`)
		for _, f := range site.Features {
			p.rawf(`<section class="feature feature-%s"><h2>`, templ.EscapeString(f.Tone))
			p.text(f.Title)
			p.raw(`</h2><p>`)
			p.text(f.Description)
			p.raw(`</p></section>`)
		}
		p.raw(`</div>`)

		p.raw(`<section class="highlights"><h2>Key Highlights</h2><div class="grid">`)
		for _, h := range site.Highlights {
			p.raw(`<div class="card"><strong>`)
			p.text(h.Value)
			p.raw(`</strong><span>`)
			p.text(h.Title)
			p.raw(`</span></div>`)
		}
		p.raw(`</div></section>`)

		p.raw(`<section id="contactForm" class="contact"><h2>`)
		p.text(site.Contact.Title)
		p.raw(`</h2>`)
		if contactSent {
			p.raw(`<p class="notice success">`)
			p.text(site.Contact.Success)
			p.raw(`</p>`)
		}
		p.raw(`<form method="post" action="/contact">`)
		p.raw(`<label>Your Name<input name="name" required></label>`)
		p.raw(`<label>Your Email<input name="email" type="email" required></label>`)
		p.raw(`<label>Your Message<textarea name="message" rows="4" required></textarea></label>`)
		p.raw(`<button type="submit">Send</button></form></section>`)
	})
}

func Documentation(site *content.Site) templ.Component {
	return component(func(p *page) {
		p.raw(`<section class="docs"><h1>`)
		p.text(site.Docs.Title)
		p.raw(`</h1>`)
		for _, s := range site.Docs.Sections {
			p.raw(`<h2>`)
			p.text(s.Heading)
			p.raw(`</h2><p>`)
			p.text(s.Body)
			p.raw(`</p>`)
		}
		p.raw(`</section>`)
	})
}

type converterView struct {
	Product string
	Snap    workflow.Snapshot
	Notice  string
}

func formatElapsed(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
}

func Converter(v converterView) templ.Component {
	return component(func(p *page) {
		snap := v.Snap
		processing := snap.State == workflow.Processing

		p.raw(`<section class="converter"><div class="card"><h1>`)
		p.text(v.Product + ": SVG to G-code Converter")
		p.raw(`</h1>`)

		if v.Notice != "" {
			p.raw(`<p class="notice">`)
			p.text(v.Notice)
			p.raw(`</p>`)
		}

		p.raw(`<form method="post" action="/converter/submit" enctype="multipart/form-data">`)

		p.raw(`<label>Mode<select name="mode">`)
		for _, m := range []models.Mode{models.ModeDrilling, models.ModeDrawing} {
			selected := ""
			if snap.Params.Mode == m {
				selected = " selected"
			}
			p.rawf(`<option value="%s"%s>`, templ.EscapeString(string(m)), selected)
			p.text(m.Label())
			p.raw(`</option>`)
		}
		p.raw(`</select></label>`)

		p.raw(`<label class="upload">Upload SVG File<input type="file" name="svg_file" accept=".svg"></label>`)
		p.raw(`<button type="submit" formaction="/converter/file" class="secondary">Preview</button>`)

		if snap.PreviewID != "" {
			p.raw(`<div class="preview"><p>SVG Preview: `)
			p.text(snap.Filename)
			p.raw(`</p><img alt="SVG Preview" src="/previews/`)
			p.text(snap.PreviewID)
			p.raw(`"></div>`)
		}

		values := snap.Params.FormValues()
		for _, f := range []struct{ label, name string }{
			{"Laser Power", models.FieldLaserPower},
			{"Speed", models.FieldSpeed},
			{"Pass Depth", models.FieldPassDepth},
		} {
			p.raw(`<label>`)
			p.text(f.label)
			p.rawf(`<input type="number" step="any" min="0" name="%s" value="%s"></label>`,
				templ.EscapeString(f.name), templ.EscapeString(values[f.name]))
		}

		disabled := ""
		if processing || snap.Filename == "" {
			disabled = " disabled"
		}
		p.rawf(`<button type="submit"%s>Convert to G-code</button>`, disabled)
		p.raw(`</form>`)

		if processing {
			p.raw(`<div class="backdrop"><div class="spinner"></div><p>Processing... `)
			p.text(formatElapsed(snap.Elapsed))
			p.raw(`</p></div>`)
		}

		if r := snap.Result; r != nil {
			if r.Success {
				p.raw(`<div class="result"><a class="button" target="_blank" rel="noopener noreferrer" href="`)
				p.text(string(templ.URL(r.DownloadURL)))
				p.raw(`">Download G-code</a>`)
				if r.ProcessingTime != nil {
					p.raw(`<p>Processed in `)
					p.text(strconv.FormatFloat(*r.ProcessingTime, 'f', -1, 64))
					p.raw(`s</p>`)
				}
				p.raw(`</div>`)
			} else {
				p.raw(`<p class="notice error">`)
				p.text(r.Message)
				p.raw(`</p>`)
			}
		}

		if snap.State != workflow.Idle {
			p.raw(`<form method="post" action="/converter/clear"><button type="submit" class="secondary">Clear</button></form>`)
		}

		p.raw(`</div></section>`)
	})
}

func ErrorPage(e errCtx) templ.Component {
	return component(func(p *page) {
		p.raw(`<section class="error"><p class="code">`)
		p.text(strconv.Itoa(e.Code))
		p.raw(`</p><h1>`)
		p.text(e.Title)
		p.raw(`</h1><p>`)
		p.text(e.Msg)
		p.raw(`</p><a class="button" href="/">Go back home</a></section>`)
	})
}
