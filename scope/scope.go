// Package scope implements scope definitions and the partition filter
// algebra used to derive read/write authorization from certificates.
package scope

import (
	"fmt"
	"regexp"
)

// Definition is a versioned template describing how read/write filters
// are derived from named parameters. Definitions are immutable: a
// change in any template is a version bump, never an in-place edit.
type Definition struct {
	ID      string
	Profile string
	Version int

	// PrimaryScopeParamKey names the parameter that must be present in
	// any certificate instantiating this definition. Empty means no
	// parameter is mandatory.
	PrimaryScopeParamKey string

	Description string

	ReadFilterTemplate      string
	WriteFilterTemplate     string
	ReadWriteFilterTemplate string
}

// Scope is the concrete authorization derived from one certificate:
// the three filters produced by substituting the certificate's scope
// params into the definition's templates.
type Scope struct {
	Read      Filter
	Write     Filter
	ReadWrite Filter
}

// EffectiveRead is the full set of partitions the holder may read.
func (s Scope) EffectiveRead() Filter {
	return s.Read.Union(s.ReadWrite)
}

// EffectiveWrite is the full set of partitions the holder may write.
func (s Scope) EffectiveWrite() Filter {
	return s.Write.Union(s.ReadWrite)
}

// SubsetOf reports whether s grants no more access than parent.
// Authorization must narrow going down a certificate tree.
func (s Scope) SubsetOf(parent Scope) bool {
	return s.EffectiveRead().SubsetOf(parent.EffectiveRead()) &&
		s.EffectiveWrite().SubsetOf(parent.EffectiveWrite())
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// Derive substitutes params into the definition's three templates.
// It fails with ErrMissingScopeParam if a template references a
// parameter absent from params. An empty template derives an empty
// filter, meaning no access of that kind.
func (d *Definition) Derive(params map[string]string) (Scope, error) {
	if err := d.CheckPrimaryParam(params); err != nil {
		return Scope{}, err
	}
	read, err := substitute(d.ReadFilterTemplate, params)
	if err != nil {
		return Scope{}, err
	}
	write, err := substitute(d.WriteFilterTemplate, params)
	if err != nil {
		return Scope{}, err
	}
	readWrite, err := substitute(d.ReadWriteFilterTemplate, params)
	if err != nil {
		return Scope{}, err
	}
	return Scope{
		Read:      NewFilter(read),
		Write:     NewFilter(write),
		ReadWrite: NewFilter(readWrite),
	}, nil
}

// CheckPrimaryParam verifies that the mandatory parameter, if the
// definition declares one, is present and non-empty.
func (d *Definition) CheckPrimaryParam(params map[string]string) error {
	if d.PrimaryScopeParamKey == "" {
		return nil
	}
	if params[d.PrimaryScopeParamKey] == "" {
		return fmt.Errorf("%w: %q", ErrMissingScopeParam, d.PrimaryScopeParamKey)
	}
	return nil
}

func substitute(template string, params map[string]string) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[2 : len(m)-1]
		v, ok := params[name]
		if !ok || v == "" {
			if missing == "" {
				missing = name
			}
			return ""
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%w: %q", ErrMissingScopeParam, missing)
	}
	return out, nil
}
