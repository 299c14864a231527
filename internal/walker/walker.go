// Package walker traverses GraphQL selection sets, expanding inline fragments
// and fragment spreads in place.
//
// The walker is permissive: spreads that name an undefined fragment are
// skipped, and a fragment that is already being expanded further up the
// current traversal is not entered again. Rejecting such documents is the job
// of the standard validation rules that run beforehand.
package walker

import (
	"iter"
	"strings"

	language "github.com/hanpama/graphcore/internal/language"
)

// Option configures a Walker.
type Option func(*Walker)

// SkipIntrospection makes the walker omit fields whose name starts with "__".
func SkipIntrospection() Option {
	return func(w *Walker) { w.skipIntrospection = true }
}

// Walker walks selection sets of one document.
type Walker struct {
	doc               *language.QueryDocument
	skipIntrospection bool
	active            map[string]int
}

func New(doc *language.QueryDocument, opts ...Option) *Walker {
	w := &Walker{doc: doc, active: make(map[string]int)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Fields yields the fields selected at one level of set. Fields nested in
// inline fragments and spread fragments belong to the same level and are
// yielded in document order. The sequence is lazy: a consumer may recurse into
// a field's own selection set from inside the loop body.
func (w *Walker) Fields(set language.SelectionSet) iter.Seq[*language.Field] {
	return func(yield func(*language.Field) bool) {
		w.walk(set, yield)
	}
}

func (w *Walker) walk(set language.SelectionSet, yield func(*language.Field) bool) bool {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if w.skipIntrospection && strings.HasPrefix(s.Name, "__") {
				continue
			}
			if !yield(s) {
				return false
			}
		case *language.InlineFragment:
			if !w.walk(s.SelectionSet, yield) {
				return false
			}
		case *language.FragmentSpread:
			frag := w.Fragment(s.Name)
			if frag == nil || w.active[s.Name] > 0 {
				continue
			}
			w.active[s.Name]++
			ok := w.walk(frag.SelectionSet, yield)
			w.active[s.Name]--
			if !ok {
				return false
			}
		}
	}
	return true
}

// Fragment returns the named fragment definition, or nil when the document
// does not define it.
func (w *Walker) Fragment(name string) *language.FragmentDefinition {
	if w.doc == nil {
		return nil
	}
	return w.doc.Fragments.ForName(name)
}

// AllFields yields every field in set and in all of its descendants,
// depth-first. Each yielded field carries the depth of the selection set it
// was found in, with the fields of set itself at depth 0.
func (w *Walker) AllFields(set language.SelectionSet) iter.Seq2[int, *language.Field] {
	return func(yield func(int, *language.Field) bool) {
		w.descend(set, 0, yield)
	}
}

func (w *Walker) descend(set language.SelectionSet, depth int, yield func(int, *language.Field) bool) bool {
	for f := range w.Fields(set) {
		if !yield(depth, f) {
			return false
		}
		if len(f.SelectionSet) > 0 && !w.descend(f.SelectionSet, depth+1, yield) {
			return false
		}
	}
	return true
}
