package services

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

var (
	templateMu    sync.Mutex
	templateCache = make(map[string]*template.Template)
)

// renderTemplate expands {{.field.path}} references against ctx. Plain
// strings are returned unchanged; missing keys render as empty.
func renderTemplate(text string, ctx map[string]interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	templateMu.Lock()
	tmpl, ok := templateCache[text]
	if !ok {
		var err error
		tmpl, err = template.New("action").Option("missingkey=zero").Parse(text)
		if err != nil {
			templateMu.Unlock()
			return "", fmt.Errorf("parse template: %w", err)
		}
		templateCache[text] = tmpl
	}
	templateMu.Unlock()

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
