package notify

import (
	"embed"
	"fmt"
	"path"
	"sync"

	"github.com/flosch/pongo2/v6"
	accounts "github.com/lungvision/go-accounts"
)

//go:embed templates/*.html templates/*.txt
var templatesFS embed.FS

// Rendered is one notification ready to be sent
type Rendered struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Renderer renders notifications with the embedded pongo2 templates.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*pongo2.Template
}

// NewRenderer returns a renderer backed by the embedded templates
func NewRenderer() *Renderer {
	return &Renderer{
		cache: map[string]*pongo2.Template{},
	}
}

// Subject returns the subject line for the notification kind.
func Subject(n accounts.Notification) string {
	label := n.RoleLabel
	if label == "" {
		label = n.Role.Label()
	}

	switch n.Kind {
	case accounts.NotificationApproval:
		return fmt.Sprintf("🎉 Your %s Account has been Approved - LungVision", label)
	case accounts.NotificationRejection:
		return fmt.Sprintf("Account Application Update - LungVision %s Application", label)
	default:
		return "LungVision Test Email"
	}
}

// Render produces the subject, text and HTML bodies.
func (r *Renderer) Render(n accounts.Notification) (*Rendered, error) {
	if !n.Kind.IsValid() {
		return nil, fmt.Errorf("unknown notification kind %q", n.Kind)
	}

	ctx := pongo2.Context{
		"full_name":     n.FullName,
		"email":         n.To,
		"role":          string(n.Role),
		"role_label":    n.RoleLabel,
		"institution":   n.Institution,
		"reviewer_name": n.ReviewerName,
		"decided_at":    n.DecidedAt,
		"reason":        n.Reason,
		"login_url":     n.LoginURL,
	}

	text, err := r.execute(string(n.Kind)+".txt", ctx)
	if err != nil {
		return nil, err
	}

	html, err := r.execute(string(n.Kind)+".html", ctx)
	if err != nil {
		return nil, err
	}

	return &Rendered{
		Subject: Subject(n),
		Text:    text,
		HTML:    html,
	}, nil
}

func (r *Renderer) execute(name string, ctx pongo2.Context) (string, error) {
	tpl, err := r.template(name)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

func (r *Renderer) template(name string) (*pongo2.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tpl, ok := r.cache[name]; ok {
		return tpl, nil
	}

	raw, err := templatesFS.ReadFile(path.Join("templates", name))
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}

	tpl, err := pongo2.FromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	r.cache[name] = tpl
	return tpl, nil
}
