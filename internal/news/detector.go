package news

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// feedLink はHTMLのheadで告知されているフィードへのリンク。
type feedLink struct {
	URL  string
	Atom bool
}

// feedContentTypes はフィードとして認識するContent-Typeのリスト。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/feed+json",
	"application/json",
}

// xmlContentTypes はボディを見て判定するContent-Type。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}

// isFeed はContent-Typeとボディからフィードかどうかを判定する。
func isFeed(contentType string, body []byte) bool {
	mt := mediaTypeOf(contentType)
	for _, ct := range feedContentTypes {
		if mt == ct {
			return true
		}
	}

	isXML := false
	for _, ct := range xmlContentTypes {
		if mt == ct {
			isXML = true
			break
		}
	}
	if !isXML && mt != "" && mt != "text/plain" && mt != "application/octet-stream" {
		return false
	}
	return looksLikeFeedXML(body)
}

// looksLikeFeedXML は先頭4KBにRSS/Atomのルート要素があるかを見る。
func looksLikeFeedXML(body []byte) bool {
	n := len(body)
	if n > 4096 {
		n = 4096
	}
	prefix := strings.ToLower(string(body[:n]))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

func isHTML(contentType string) bool {
	return strings.Contains(mediaTypeOf(contentType), "html")
}

// findFeedLinks はheadタグ内のlink rel="alternate"からフィードURLを集める。
// 相対URLはbaseURLを基準に解決する。
func findFeedLinks(body []byte, baseURL string) []feedLink {
	var links []feedLink

	base, err := url.Parse(baseURL)
	if err != nil {
		return links
	}

	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			switch string(tn) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			var rel, typ, href string
			for {
				key, val, more := z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					typ = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}
			if rel != "alternate" || href == "" {
				continue
			}
			if typ != "application/rss+xml" && typ != "application/atom+xml" {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			links = append(links, feedLink{
				URL:  base.ResolveReference(ref).String(),
				Atom: typ == "application/atom+xml",
			})

		case html.EndTagToken:
			if tn, _ := z.TagName(); string(tn) == "head" {
				return links
			}
		}
	}
}

// bestFeedLink は同一ホスト、Atom、出現順の優先度でリンクを1つ選ぶ。
func bestFeedLink(links []feedLink, pageURL string) (string, bool) {
	if len(links) == 0 {
		return "", false
	}
	pageHost := hostOf(pageURL)

	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 100
		}
		if l.Atom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best].URL, true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hasWebScheme(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
