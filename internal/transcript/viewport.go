package transcript

// AtBottomThreshold is how close (in pixels) to the bottom the viewport
// may be and still count as pinned there.
const AtBottomThreshold = 40

// Viewport captures the scroll state of the transcript view right before
// a transcript-affecting change.
type Viewport struct {
	Height        float64 // visible height
	ScrollTop     float64 // distance scrolled from the top
	ContentHeight float64 // total content height
}

// AtBottom reports whether the viewport sits within the threshold of the
// content bottom.
func (v Viewport) AtBottom() bool {
	return v.ContentHeight-(v.ScrollTop+v.Height) <= AtBottomThreshold
}

// AfterChange returns the scroll position to apply once the content has
// grown (or shrunk) to newContentHeight. Pinned viewports snap to the new
// bottom; others keep their visual offset by absorbing the height delta,
// so reading history is never yanked away by new content below.
func (v Viewport) AfterChange(newContentHeight float64) float64 {
	if v.AtBottom() {
		top := newContentHeight - v.Height
		if top < 0 {
			top = 0
		}
		return top
	}
	return v.ScrollTop + (newContentHeight - v.ContentHeight)
}
