package server

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"

	jsonwriter "github.com/dgellow/prima-front/internal/json"
	"github.com/dgellow/prima-front/internal/log"
)

//go:embed templates/login.html
var loginPageTemplateHTML string

//go:embed templates/home.html
var homePageTemplateHTML string

var loginPageTemplate = template.Must(template.New("login").Parse(loginPageTemplateHTML))
var homePageTemplate = template.Must(template.New("home").Parse(homePageTemplateHTML))

// LoginPageData represents the data for the login page
type LoginPageData struct {
	AppName     string
	CSRFToken   string
	CallbackURL string
	Username    string
	Error       string
}

// HomePageData represents the data for the landing page
type HomePageData struct {
	AppName   string
	Username  string
	Name      string
	Email     string
	Provider  string
	Resources []string
}

// renderHTML executes tmpl into a buffer first so a template error never
// leaves a half written page
func renderHTML(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.LogError("Failed to render %s page: %v", tmpl.Name(), err)
		jsonwriter.WriteInternalServerError(w, "Failed to render page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
