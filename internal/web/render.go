// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/observability"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"home", "register", "login", "secrets", "submit", "error"}

// pages holds one parsed template set per page, each sharing the layout.
type pages struct {
	byName map[string]*template.Template
}

func loadPages() (*pages, error) {
	p := &pages{byName: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, oops.Code("WEB_TEMPLATE_INVALID").With("template", name).Wrap(err)
		}
		p.byName[name] = t
	}
	return p, nil
}

// render executes the page into a buffer first so a failing template never
// leaves a half-written response.
func (s *Server) render(c *gin.Context, status int, name string, data any) {
	t, ok := s.pages.byName[name]
	if !ok {
		observability.RecordRenderFailure(name)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		observability.RecordRenderFailure(name)
		s.logger.ErrorContext(c.Request.Context(), "failed to render page", "template", name, "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) renderError(c *gin.Context, status int, message string) {
	d := s.data(c)
	d.Error = message
	s.render(c, status, "error", d)
}
