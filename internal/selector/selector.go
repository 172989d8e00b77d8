// internal/selector/selector.go
package selector

import "github.com/factuscan/factuscan/api/schemas"

// Resolve translates a declarative selector spec into a concrete page query.
// Raw content passes through unchanged so recipes can carry full CSS queries.
// The result is not validated here; a bad query surfaces downstream as an
// element-not-found failure.
func Resolve(spec schemas.SelectorSpec) string {
	switch spec.Kind {
	case schemas.SelectorID:
		return "#" + spec.Content
	case schemas.SelectorClass:
		return "." + spec.Content
	default:
		return spec.Content
	}
}

// ResolveStep resolves a captcha protocol step the same way a regular
// selector spec is resolved.
func ResolveStep(step schemas.CaptchaStep) string {
	return Resolve(schemas.SelectorSpec{Kind: step.Kind, Content: step.Content})
}
