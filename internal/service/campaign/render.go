package campaign

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/mailpipe/internal/domain"
)

var (
	unsubscribeToken = regexp.MustCompile(`(?i)\{\{\s*(unsubscribeUrl|unsubscribe_url)\s*\}\}`)
	unsubscribeHref  = regexp.MustCompile(`(?i)href\s*=\s*["'][^"']*unsubscribe[^"']*["']`)
	literalToken     = regexp.MustCompile(`\{\{\s*([A-Za-z_]+)\s*\}\}`)
)

// hasUnsubscribe reports whether a body carries the mandatory opt-out link.
func hasUnsubscribe(body string) bool {
	return unsubscribeToken.MatchString(body) || unsubscribeHref.MatchString(body)
}

// checkCompliance requires the opt-out link in the HTML body, or in the text
// body when there is no HTML.
func checkCompliance(html, text string) error {
	body := html
	if strings.TrimSpace(body) == "" {
		body = text
	}
	if !hasUnsubscribe(body) {
		return ErrMissingFooter
	}
	return nil
}

// compiled is a parsed message body. A part that is not valid liquid falls
// back to literal token replacement.
type compiled struct {
	raw string
	tpl *liquid.Template
}

// renderer personalizes one campaign body for many recipients. Parsing
// happens once per dispatch.
type renderer struct {
	subject, html, text compiled
}

func newRenderer(engine *liquid.Engine, subject, html, text string) *renderer {
	return &renderer{
		subject: compile(engine, subject),
		html:    compile(engine, html),
		text:    compile(engine, text),
	}
}

func compile(engine *liquid.Engine, src string) compiled {
	c := compiled{raw: src}
	if src == "" {
		return c
	}
	if tpl, err := engine.ParseString(src); err == nil {
		c.tpl = tpl
	}
	return c
}

func (c compiled) render(b liquid.Bindings) (string, error) {
	if c.raw == "" {
		return "", nil
	}
	if c.tpl == nil {
		return replaceLiteral(c.raw, b), nil
	}
	out, err := c.tpl.RenderString(b)
	if err != nil {
		return "", err
	}
	return out, nil
}

// replaceLiteral substitutes {{name}} tokens it knows and leaves the rest.
func replaceLiteral(src string, b liquid.Bindings) string {
	return literalToken.ReplaceAllStringFunc(src, func(tok string) string {
		name := literalToken.FindStringSubmatch(tok)[1]
		if v, ok := b[name].(string); ok {
			return v
		}
		return tok
	})
}

// rendered is one personalized message.
type rendered struct {
	Subject, HTML, Text string
}

func (r *renderer) render(b liquid.Bindings) (rendered, error) {
	var out rendered
	var err error
	if out.Subject, err = r.subject.render(b); err != nil {
		return out, err
	}
	if out.HTML, err = r.html.render(b); err != nil {
		return out, err
	}
	if out.Text, err = r.text.render(b); err != nil {
		return out, err
	}
	return out, nil
}

// recipientBindings exposes personalization tokens in camelCase and
// snake_case.
func recipientBindings(sub domain.Subscriber, unsubscribeURL string) liquid.Bindings {
	full := sub.FullName()
	return liquid.Bindings{
		"firstName":       sub.FirstName,
		"lastName":        sub.LastName,
		"fullName":        full,
		"email":           sub.Email,
		"unsubscribeUrl":  unsubscribeURL,
		"first_name":      sub.FirstName,
		"last_name":       sub.LastName,
		"full_name":       full,
		"unsubscribe_url": unsubscribeURL,
	}
}

// unsubscribeLink builds the per-recipient opt-out URL.
func unsubscribeLink(base, campaignID, subscriberID, email string) string {
	if base == "" {
		return ""
	}
	q := url.Values{}
	if subscriberID != "" {
		q.Set("sid", subscriberID)
	} else {
		q.Set("email", email)
	}
	if campaignID != "" {
		q.Set("cid", campaignID)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
