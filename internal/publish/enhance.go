package publish

import "context"

// PassthroughEnhancer is the enhancement collaborator used when no
// caption service is wired: the item's own caption and media are used
// unchanged. Items without a precomputed caption fail.
type PassthroughEnhancer struct{}

func (PassthroughEnhancer) Enhance(_ context.Context, item ContentItem) (EnhanceResult, error) {
	if item.Caption == "" {
		return EnhanceResult{}, &EnhanceError{Message: "no caption service configured and item " + item.ID + " has no caption"}
	}
	return EnhanceResult{Caption: item.Caption, MediaRef: item.MediaRef}, nil
}
