// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

const pageStyle = `<style>
  body { font-family: system-ui, -apple-system, sans-serif; max-width: 760px;
         margin: 0 auto; padding: 48px 20px 0; color: #2c2c1e; background: #faf8f0; }
  h1 { color: #2d5016; margin-bottom: 4px; }
  .meta { color: #6b6b5a; font-size: 0.9em; }
  code { font-family: ui-monospace, monospace; background: #f0ece0;
          padding: 2px 6px; border-radius: 3px; font-size: 0.9em; }
  .card { border: 1px solid #f0ece0; border-radius: 8px; padding: 16px 20px;
           margin-bottom: 14px; background: #fff; }
  .tool-name { font-family: ui-monospace, monospace; font-weight: 600; color: #2d5016; }
  .badge { display: inline-block; margin-left: 8px; padding: 2px 8px; border-radius: 4px;
            font-size: 0.75em; font-weight: 600; text-transform: uppercase;
            background: #e8f5e0; color: #2d5016; }
  p { line-height: 1.6; }
</style>`

const landingHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
%s
</head>
<body>
<h1>%s</h1>
<p class="meta">Arrow IPC tool endpoint &middot; server <code>%s</code></p>
<p>Call a tool with <code>POST %s/&lt;tool&gt;</code> and
<code>Content-Type: application/vnd.apache.arrow.stream</code>.</p>
%s
</body>
</html>`

const notFoundHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>404 &middot; Not Found</title>
%s
</head>
<body>
<h1>404 &middot; Not Found</h1>
<p>This is an Arrow IPC tool endpoint. Tools are called with
<code>POST %s/&lt;tool&gt;</code>; see <a href="%s">%s</a> for the list.</p>
</body>
</html>`

func buildLandingHTML(s *Server, prefix string) []byte {
	var cards strings.Builder
	tools := s.Tools()
	if len(tools) == 0 {
		cards.WriteString(`<p class="meta">No tools registered.</p>`)
	}
	for _, t := range tools {
		cards.WriteString(`<div class="card">`)
		fmt.Fprintf(&cards, `<span class="tool-name">%s</span><span class="badge">unary</span>`,
			html.EscapeString(t.Name))
		if t.Description != "" {
			fmt.Fprintf(&cards, `<p>%s</p>`, html.EscapeString(t.Description))
		}
		cards.WriteString("</div>\n")
	}

	title := protocolName
	if s.serviceName != "" {
		title = s.serviceName
	}
	return []byte(fmt.Sprintf(landingHTMLTemplate,
		html.EscapeString(title), // <title>
		pageStyle,
		html.EscapeString(title), // <h1>
		html.EscapeString(s.serverID),
		html.EscapeString(prefix),
		cards.String(),
	))
}

func buildNotFoundHTML(prefix string) []byte {
	p := html.EscapeString(prefix)
	return []byte(fmt.Sprintf(notFoundHTMLTemplate, pageStyle, p, p, p))
}

func (h *HttpServer) handleLandingPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buildLandingHTML(h.server, h.prefix))
}

func (h *HttpServer) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(buildNotFoundHTML(h.prefix))
}
