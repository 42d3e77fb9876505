package engine

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"metasearch/internal/adapter/network"
	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

// searxngResponse models the relevant portion of the SearXNG JSON response.
type searxngResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Content       string `json:"content"`
		Category      string `json:"category"`
		Thumbnail     string `json:"thumbnail"`
		PublishedDate string `json:"publishedDate"`
	} `json:"results"`
	Suggestions []string          `json:"suggestions"`
	Corrections []string          `json:"corrections"`
	Answers     []json.RawMessage `json:"answers"`
	Infoboxes   []struct {
		ID      string `json:"id"`
		Infobox string `json:"infobox"`
		Content string `json:"content"`
		ImgSrc  string `json:"img_src"`
		URLs    []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"urls"`
	} `json:"infoboxes"`
	NumberOfResults float64 `json:"number_of_results"`
}

// jsonEngine queries a SearXNG-compatible JSON API.
type jsonEngine struct {
	endpoint string
	apiKey   string
}

func newJSONEngine(cfg config.EngineConfig) (Engine, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("json engine: base_url is required")
	}
	endpoint := base
	if !strings.HasSuffix(endpoint, "/search") {
		endpoint += "/search"
	}
	return &jsonEngine{endpoint: endpoint, apiKey: cfg.APIKey}, nil
}

func (e *jsonEngine) Request(query string, params *domain.RequestParams) error {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", strconv.Itoa(params.PageNo))
	if params.Category != "" {
		q.Set("categories", params.Category)
	}
	if params.Language != "" {
		q.Set("language", params.Language)
	}
	if params.SafeSearch > 0 {
		q.Set("safesearch", strconv.Itoa(params.SafeSearch))
	}
	if params.TimeRange != "" {
		q.Set("time_range", params.TimeRange)
	}
	params.URL = e.endpoint + "?" + q.Encode()
	params.Headers.Set("Accept", "application/json")
	if e.apiKey != "" {
		params.Headers.Set("Authorization", "Bearer "+e.apiKey)
	}
	return nil
}

func (e *jsonEngine) Response(resp *network.Response) (domain.Batch, error) {
	var sr searxngResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return domain.Batch{}, parseError("json response: %v", err)
	}

	var b domain.Batch
	for _, r := range sr.Results {
		if r.URL == "" {
			continue
		}
		res := domain.Result{
			URL:       r.URL,
			Title:     r.Title,
			Content:   r.Content,
			Category:  r.Category,
			Thumbnail: r.Thumbnail,
		}
		if t, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
			res.PublishedDate = &t
		}
		b.Results = append(b.Results, res)
	}
	b.Suggestions = sr.Suggestions
	b.Corrections = sr.Corrections
	for _, raw := range sr.Answers {
		if a, ok := decodeAnswer(raw); ok {
			b.Answers = append(b.Answers, a)
		}
	}
	for _, ib := range sr.Infoboxes {
		box := domain.Infobox{ID: ib.ID, Title: ib.Infobox, Content: ib.Content, ImgSrc: ib.ImgSrc}
		for _, u := range ib.URLs {
			box.URLs = append(box.URLs, domain.InfoboxURL{Title: u.Title, URL: u.URL})
		}
		b.Infoboxes = append(b.Infoboxes, box)
	}
	b.NumberOfResults = int(sr.NumberOfResults)
	return b, nil
}

// decodeAnswer accepts both answer shapes SearXNG has used: a bare string
// and an object with answer and url.
func decodeAnswer(raw json.RawMessage) (domain.Answer, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return domain.Answer{Answer: text}, text != ""
	}
	var obj struct {
		Answer string `json:"answer"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Answer == "" {
		return domain.Answer{}, false
	}
	return domain.Answer{Answer: obj.Answer, URL: obj.URL}, true
}
