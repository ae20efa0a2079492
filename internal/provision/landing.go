package provision

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"

	"github.com/tnnl/coordinator/internal/domain"
)

//go:embed landing.html
var defaultLandingTemplate string

// Landing renders the page browsers see at a tunnel's root URL.
type Landing struct {
	tmpl *template.Template
}

type landingData struct {
	Subdomain    string
	Host         string
	WebSocketURL string
	PublicURL    string
	Protected    bool
	User         string
}

// NewLanding parses the template at path, or the built-in page when path
// is empty.
func NewLanding(path string) (*Landing, error) {
	src := defaultLandingTemplate
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read landing template: %w", err)
		}
		src = string(b)
	}
	tmpl, err := template.New("landing").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse landing template: %w", err)
	}
	return &Landing{tmpl: tmpl}, nil
}

func (l *Landing) Render(t domain.Tunnel, baseDomain string) ([]byte, error) {
	var buf bytes.Buffer
	err := l.tmpl.Execute(&buf, landingData{
		Subdomain:    t.Subdomain,
		Host:         t.Hostname(baseDomain),
		WebSocketURL: t.WebSocketURL(baseDomain),
		PublicURL:    t.PublicURL(baseDomain),
		Protected:    t.HasPassword(),
		User:         domain.BasicAuthUser,
	})
	if err != nil {
		return nil, fmt.Errorf("render landing page: %w", err)
	}
	return buf.Bytes(), nil
}
