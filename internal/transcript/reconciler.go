package transcript

import (
	"github.com/gopherchat/gopherchat/internal/ai"
	"github.com/gopherchat/gopherchat/internal/chat"
)

// Reconciler merges up to three message sources into one display-ready
// transcript for a single chat: server-confirmed rows, optimistic entries
// not yet confirmed, and (for anonymous sessions) a wholly local log. It
// also owns the typing indicator and the image-mode toggle.
//
// Ordering is the order operations were issued: persisted rows in storage
// order, then still-pending entries in submission order. Pending entries
// have no server timestamp, so no timestamp comparison is ever done.
type Reconciler struct {
	persisted []Entry
	pending   []Entry
	local     []Entry
	localMode bool
	typing    bool
	imageMode bool
}

// New returns a reconciler for an authenticated session backed by
// persisted rows.
func New() *Reconciler {
	return &Reconciler{}
}

// NewLocal returns a reconciler for an anonymous session. Submissions go
// straight into the local log; there is no pending set to confirm.
func NewLocal() *Reconciler {
	return &Reconciler{localMode: true}
}

func (r *Reconciler) Typing() bool     { return r.typing }
func (r *Reconciler) SetTyping(v bool) { r.typing = v }

func (r *Reconciler) ImageMode() bool     { return r.imageMode }
func (r *Reconciler) SetImageMode(v bool) { r.imageMode = v }

// SubmitUser records a user submission as an optimistic entry and sets
// the typing indicator. Image mode, if on, marks the entry as an image
// prompt and auto-resets after this one send.
func (r *Reconciler) SubmitUser(content string) Entry {
	e := Entry{Kind: Text, Role: chat.RoleUser, Content: content}
	if r.imageMode {
		e.Kind = ImagePrompt
		r.imageMode = false
	}
	r.typing = true
	r.append(e)
	return e
}

// AppendAssistant records a completed text reply and clears the typing
// indicator.
func (r *Reconciler) AppendAssistant(content string) {
	r.typing = false
	r.append(Entry{Kind: Text, Role: chat.RoleAssistant, Content: content})
}

// AppendImageResult records a completed image generation and clears the
// typing indicator.
func (r *Reconciler) AppendImageResult(imageBase64 string) {
	r.typing = false
	r.append(Entry{
		Kind:        ImageResult,
		Role:        chat.RoleAssistant,
		Content:     chat.ImageSentinel,
		ImageBase64: imageBase64,
	})
}

func (r *Reconciler) append(e Entry) {
	if r.localMode {
		r.local = append(r.local, e)
		return
	}
	r.pending = append(r.pending, e)
}

// SetPersisted replaces the confirmed snapshot. A pending entry is
// dropped once the snapshot contains a row matching its (content, role);
// this is the sole removal rule, there is no timeout.
func (r *Reconciler) SetPersisted(rows []chat.Message) {
	r.persisted = r.persisted[:0]
	for _, m := range rows {
		r.persisted = append(r.persisted, FromMessage(m))
	}

	kept := r.pending[:0]
	for _, p := range r.pending {
		confirmed := false
		for _, c := range r.persisted {
			if c.Content == p.Content && c.Role == p.Role {
				confirmed = true
				break
			}
		}
		if !confirmed {
			kept = append(kept, p)
		}
	}
	r.pending = kept
}

// SetLocal replaces the anonymous log, e.g. after reattaching to a
// session held by a LocalStore.
func (r *Reconciler) SetLocal(msgs []chat.LocalMessage) {
	r.local = r.local[:0]
	for _, m := range msgs {
		r.local = append(r.local, FromLocal(m))
	}
}

type dedupeKey struct {
	content string
	role    string
	kind    Kind
	image   string
}

func keyOf(e Entry) dedupeKey {
	k := dedupeKey{content: e.Content, role: e.Role, kind: e.Kind}
	if e.Kind == ImageResult {
		// distinct images share the sentinel content; keep them apart
		k.image = e.ImageBase64
	}
	return k
}

// Transcript assembles the display list: merge the sources in issue
// order, keep only the last occurrence of duplicate (content, role,
// image-prompt) entries, and suppress incomplete image generations.
// The reconciler is scoped to one chat, so the chat id is implicit in
// every key.
func (r *Reconciler) Transcript() []Entry {
	var merged []Entry
	if r.localMode {
		merged = append(merged, r.local...)
	} else {
		merged = append(merged, r.persisted...)
		merged = append(merged, r.pending...)
	}

	last := make(map[dedupeKey]int, len(merged))
	for i, e := range merged {
		last[keyOf(e)] = i
	}

	out := make([]Entry, 0, len(merged))
	for i, e := range merged {
		if e.failedImage() {
			continue
		}
		if last[keyOf(e)] != i {
			continue
		}
		out = append(out, e)
	}
	return out
}

// History is the conversation handed to the model: every source plus
// still-pending entries, with image prompts and image placeholders
// filtered out so the model never sees them as conversation content.
func (r *Reconciler) History() []ai.Message {
	var merged []Entry
	if r.localMode {
		merged = r.local
	} else {
		merged = append(append([]Entry(nil), r.persisted...), r.pending...)
	}

	history := make([]ai.Message, 0, len(merged))
	for _, e := range merged {
		if e.Kind != Text || e.failedImage() {
			continue
		}
		history = append(history, ai.Message{Role: e.Role, Content: e.Content})
	}
	return history
}
