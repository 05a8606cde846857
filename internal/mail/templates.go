package mail

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"text/template"
)

//go:embed templates/*
var templateFS embed.FS

var (
	resetText = template.Must(template.ParseFS(templateFS, "templates/password_reset.txt"))
	resetHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/password_reset.html"))
)

type resetData struct {
	Name      string
	AppName   string
	ResetURL  string
	ExpiresIn string
}

// renderPasswordReset returns the plain text and HTML bodies
func renderPasswordReset(data resetData) (string, string, error) {
	var text, html bytes.Buffer
	if err := resetText.Execute(&text, data); err != nil {
		return "", "", err
	}
	if err := resetHTML.Execute(&html, data); err != nil {
		return "", "", err
	}
	return text.String(), html.String(), nil
}
