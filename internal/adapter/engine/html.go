package engine

import (
	"bytes"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"metasearch/internal/adapter/network"
	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

// htmlEngine scrapes a result page with CSS selectors. base_url may carry
// {query}, {pageno} and {lang} placeholders; without {query} the query is
// sent as the q parameter.
type htmlEngine struct {
	base string
	sel  config.HTMLSelectors
}

func newHTMLEngine(cfg config.EngineConfig) (Engine, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("html engine: base_url is required")
	}
	if cfg.Selectors.Results == "" {
		return nil, errors.New("html engine: selectors.results is required")
	}
	return &htmlEngine{base: cfg.BaseURL, sel: cfg.Selectors}, nil
}

func (e *htmlEngine) Request(query string, params *domain.RequestParams) error {
	if strings.Contains(e.base, "{query}") {
		params.URL = strings.NewReplacer(
			"{query}", url.QueryEscape(query),
			"{pageno}", strconv.Itoa(params.PageNo),
			"{lang}", url.QueryEscape(params.Language),
		).Replace(e.base)
		return nil
	}

	u, err := url.Parse(e.base)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("q", query)
	if params.PageNo > 1 {
		q.Set("page", strconv.Itoa(params.PageNo))
	}
	u.RawQuery = q.Encode()
	params.URL = u.String()
	return nil
}

func (e *htmlEngine) Response(resp *network.Response) (domain.Batch, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return domain.Batch{}, parseError("html response: %v", err)
	}

	var b domain.Batch
	doc.Find(e.sel.Results).Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a").First()
		if e.sel.URL != "" {
			link = s.Find(e.sel.URL).First()
		}
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		target := resolve(resp.URL, href)
		if target == "" {
			return
		}

		title := link.Text()
		if e.sel.Title != "" {
			title = s.Find(e.sel.Title).First().Text()
		}
		var content string
		if e.sel.Content != "" {
			content = s.Find(e.sel.Content).First().Text()
		}
		b.Results = append(b.Results, domain.Result{
			URL:     target,
			Title:   collapse(title),
			Content: collapse(content),
		})
	})

	if e.sel.Suggestion != "" {
		doc.Find(e.sel.Suggestion).Each(func(_ int, s *goquery.Selection) {
			if text := collapse(s.Text()); text != "" {
				b.Suggestions = append(b.Suggestions, text)
			}
		})
	}
	return b, nil
}

// resolve makes href absolute against the page URL. Non-http links yield "".
func resolve(page *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if page != nil {
		ref = page.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
