// internal/selector/selector_test.go
package selector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/selector"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		spec schemas.SelectorSpec
		want string
	}{
		{
			name: "id gets hash prefix",
			spec: schemas.SelectorSpec{Kind: schemas.SelectorID, Content: "nic"},
			want: "#nic",
		},
		{
			name: "class gets dot prefix",
			spec: schemas.SelectorSpec{Kind: schemas.SelectorClass, Content: "pdf-link"},
			want: ".pdf-link",
		},
		{
			name: "raw passes through",
			spec: schemas.SelectorSpec{Kind: schemas.SelectorRaw, Content: "table.bills > tbody td a"},
			want: "table.bills > tbody td a",
		},
		{
			name: "unknown kind treated as raw",
			spec: schemas.SelectorSpec{Kind: "xpath", Content: "//a[@href]"},
			want: "//a[@href]",
		},
		{
			name: "raw with invalid syntax is not rejected here",
			spec: schemas.SelectorSpec{Kind: schemas.SelectorRaw, Content: "[[["},
			want: "[[[",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selector.Resolve(tt.spec))
		})
	}
}

func TestResolveStep(t *testing.T) {
	step := schemas.CaptchaStep{Kind: schemas.SelectorID, Content: "customer-number"}
	assert.Equal(t, "#customer-number", selector.ResolveStep(step))
}
