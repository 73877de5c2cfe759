// Package prompt composes the final model request from a catalog template.
package prompt

import (
	"regexp"
	"strings"
)

// Placeholder names understood by Format.
const (
	Question       = "question"
	Location       = "location"
	Species        = "species"
	SpeciesContext = "species_context"
	TreeContext    = "tree_context"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Inputs maps placeholder names to their values.
type Inputs map[string]string

// Payload is what a vision.Client sends to the model.
type Payload struct {
	Prompt   string
	Image    []byte
	MIMEType string
}

// HasImage reports whether the payload carries image bytes.
func (p Payload) HasImage() bool {
	return len(p.Image) > 0
}

// Format substitutes every {{name}} in template. Names without a value in in,
// known or not, become the empty string so the prompt never reaches the model
// with raw markers in it.
func Format(template string, image []byte, mimeType string, in Inputs) Payload {
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return strings.TrimSpace(in[name])
	})
	return Payload{
		Prompt:   strings.TrimSpace(out),
		Image:    image,
		MIMEType: mimeType,
	}
}
