package middleware

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/ports"
)

// Mask replaces redacted attribute values.
const Mask = "***"

// DefaultSensitivePatterns match the attribute names treated as credentials.
var DefaultSensitivePatterns = []string{"(?i)password", "(?i)secret", "(?i)credential", "(?i)token"}

// Redactor masks attributes whose names match any of its patterns.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the patterns. It panics on an invalid expression.
func NewRedactor(patternStrings []string) *Redactor {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return &Redactor{patterns: patterns}
}

// Resource returns a masked deep copy of res, children included.
func (r *Redactor) Resource(res *domain.Resource) *domain.Resource {
	if res == nil {
		return nil
	}
	out := res.Clone()
	r.mask(out)
	return out
}

// Snapshot returns a masked deep copy of snap.
func (r *Redactor) Snapshot(snap *domain.Snapshot) *domain.Snapshot {
	out := snap.Clone()
	for _, res := range out.Resources {
		r.mask(res)
	}
	return out
}

// Response returns resp with the payload of op masked. Participant results carry no payload.
func (r *Redactor) Response(op domain.Operation, resp domain.Response) domain.Response {
	resp.Outcome.Result = r.Result(op, resp.Outcome.Result)
	return resp
}

// Result returns a masked copy of the payload op produced. A read-attribute value is masked
// when the attribute name is sensitive; composite payloads are masked step by step.
func (r *Redactor) Result(op domain.Operation, v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case *domain.Resource:
		return r.Resource(v)
	}

	switch op.Name {
	case domain.OpReadAttribute:
		if name, _ := op.Params["name"].(string); r.sensitive(name) {
			return Mask
		}
	case domain.OpComposite:
		if m, ok := v.(map[string]any); ok {
			steps := compositeSteps(op)
			out := make(map[string]any, len(m))
			for k, sv := range m {
				var step domain.Operation
				if i, err := strconv.Atoi(strings.TrimPrefix(k, "step-")); err == nil && i >= 1 && i <= len(steps) {
					step = steps[i-1]
				}
				out[k] = r.Result(step, sv)
			}
			return out
		}
	}

	cp := domain.CloneValue(v)
	if m, ok := cp.(map[string]any); ok {
		maskMap(m, r.patterns)
	}
	return cp
}

func (r *Redactor) sensitive(name string) bool {
	for _, p := range r.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// compositeSteps recovers the nested operations from typed or JSON-decoded params.
func compositeSteps(op domain.Operation) []domain.Operation {
	switch steps := op.Params["steps"].(type) {
	case []domain.Operation:
		return steps
	case []any:
		out := make([]domain.Operation, len(steps))
		for i, s := range steps {
			switch s := s.(type) {
			case domain.Operation:
				out[i] = s
			case map[string]any:
				out[i].Name, _ = s["operation"].(string)
				out[i].Params, _ = s["params"].(map[string]any)
			}
		}
		return out
	}
	return nil
}

func (r *Redactor) mask(res *domain.Resource) {
	maskMap(res.Attributes, r.patterns)
	for _, ch := range res.Children {
		r.mask(ch)
	}
}

type redactionMiddleware struct {
	next     ports.SnapshotStore
	redactor *Redactor
}

// NewRedactionMiddleware creates a middleware that masks sensitive attributes before they reach
// the store. Masked values cannot be recovered, so it suits audit and export stores rather than
// the store a coordinator recovers from.
func NewRedactionMiddleware(patternStrings []string) Middleware {
	redactor := NewRedactor(patternStrings)
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &redactionMiddleware{next: next, redactor: redactor}
	}
}

func (m *redactionMiddleware) Persist(ctx context.Context, process string, snap *domain.Snapshot) error {
	return m.next.Persist(ctx, process, m.redactor.Snapshot(snap))
}

func (m *redactionMiddleware) Load(ctx context.Context, process string) (*domain.Snapshot, error) {
	return m.next.Load(ctx, process)
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok && !masked {
			maskMap(subMap, patterns)
		}
	}
}
