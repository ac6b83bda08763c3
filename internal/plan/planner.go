// Package plan decides which variants are derived for an upload.
package plan

import (
	"fmt"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

// Variant labels shared with the HTTP response shapes.
const (
	LabelOriginal = "original"
	LabelXLarge   = "xlarge"
	LabelLarge    = "large"
	LabelNormal   = "normal"
	LabelSmall    = "small"
	LabelThumb    = "thumb"
)

type planKey struct {
	class domain.ContentClass
	ctx   domain.UploadContext
}

func photo(label string, width int, primary bool) domain.VariantSpec {
	return domain.VariantSpec{
		Label:     label,
		Transform: &domain.TransformParams{TargetWidth: width, Reorient: true, Interlace: true},
		Primary:   primary,
	}
}

var passThrough = []domain.VariantSpec{{Label: LabelOriginal, Primary: true}}

// plans maps every valid (class, context) pair to its ordered variant
// list. The primary is always first.
var plans = map[planKey][]domain.VariantSpec{
	{domain.ClassVideo, domain.ContextGeneric}: passThrough,
	{domain.ClassAudio, domain.ContextGeneric}: passThrough,
	{domain.ClassImage, domain.ContextGeneric}: passThrough,
	{domain.ClassImage, domain.ContextLocationPhoto}: {
		photo(LabelXLarge, 1400, true),
		photo(LabelLarge, 700, false),
		photo(LabelNormal, 600, false),
		photo(LabelSmall, 400, false),
	},
	{domain.ClassImage, domain.ContextUserAvatar}: {
		photo(LabelThumb, 50, true),
		photo(LabelNormal, 150, false),
	},
}

// Planner produces variant plans from its configuration table.
type Planner struct{}

// NewPlanner creates a planner with the default plan table.
func NewPlanner() *Planner { return &Planner{} }

// Plan returns the ordered variant list for the given class and
// context, primary first. An unknown pair is a programming error in
// the calling layer and panics.
func (p *Planner) Plan(class domain.ContentClass, ctx domain.UploadContext) []domain.VariantSpec {
	specs, ok := plans[planKey{class, ctx}]
	if !ok {
		panic(fmt.Sprintf("plan: no variant plan for class %q context %q", class, ctx))
	}
	out := make([]domain.VariantSpec, len(specs))
	copy(out, specs)
	return out
}
