package domain

import (
	"regexp"
	"strings"
)

// TagKind classifies a tag by its sigil.
type TagKind string

const (
	TagInput    TagKind = "input"    // $name
	TagOutput   TagKind = "output"   // #name
	TagInternal TagKind = "internal" // !name
	TagInvalid  TagKind = "invalid"
)

// Sigils for each tag kind.
const (
	SigilInput    = "$"
	SigilOutput   = "#"
	SigilInternal = "!"
)

// Well-known internal tags.
const (
	TagBypass = "!bypass"
	TagCache  = "!cache"
)

// FilterMode describes which inputs an input tag exposes.
type FilterMode int

const (
	FilterAll  FilterMode = iota // no parentheses
	FilterNone                   // empty parentheses
	FilterSet                    // explicit list
)

// Filter is the input selection of a tag.
type Filter struct {
	Mode  FilterMode
	Names []string
}

// Allows reports whether the filter exposes the named input.
func (f Filter) Allows(input string) bool {
	switch f.Mode {
	case FilterAll:
		return true
	case FilterSet:
		for _, n := range f.Names {
			if n == input {
				return true
			}
		}
	}
	return false
}

// Tag is a parsed title token. Treat it as immutable.
type Tag struct {
	Kind      TagKind
	Name      string
	Filters   Filter
	HasParens bool
	Raw       string
}

// Valid reports whether the tag was recognized.
func (t Tag) Valid() bool {
	return t.Kind != TagInvalid
}

// Token returns sigil+name, the key used to match tags ("$prompt", "!cache").
// Filters are not part of the token.
func (t Tag) Token() string {
	switch t.Kind {
	case TagInput:
		return SigilInput + t.Name
	case TagOutput:
		return SigilOutput + t.Name
	case TagInternal:
		return SigilInternal + t.Name
	}
	return ""
}

// Allows applies the filter policy of an input tag.
func (t Tag) Allows(input string) bool {
	return t.Kind == TagInput && t.Filters.Allows(input)
}

var (
	tagPattern  = regexp.MustCompile(`^([$#!])([A-Za-z0-9_-]+)(?:\(([^)]*)\))?$`)
	scanPattern = regexp.MustCompile(`[$#!][A-Za-z0-9_-]+(?:\([^)]*\))?`)
)

// ParseTag classifies a single token. It never fails: unrecognized tokens come back
// with Kind TagInvalid.
func ParseTag(token string) Tag {
	invalid := Tag{Kind: TagInvalid, Raw: token}

	m := tagPattern.FindStringSubmatch(token)
	if m == nil {
		return invalid
	}
	sigil, name := m[1], m[2]
	hasParens := strings.HasSuffix(token, ")")

	switch sigil {
	case SigilOutput:
		// only inputs may be filtered
		if hasParens {
			return invalid
		}
		return Tag{Kind: TagOutput, Name: name, Raw: token}
	case SigilInternal:
		return Tag{Kind: TagInternal, Name: name, HasParens: hasParens, Raw: token}
	}

	t := Tag{Kind: TagInput, Name: name, HasParens: hasParens, Raw: token}
	if !hasParens {
		return t
	}
	names := splitFilters(m[3])
	if len(names) == 0 {
		t.Filters = Filter{Mode: FilterNone}
	} else {
		t.Filters = Filter{Mode: FilterSet, Names: names}
	}
	return t
}

// ScanTags extracts every tag token from a free-text title, in order of appearance.
// Invalid tokens are kept so callers can report them; most consumers skip them.
func ScanTags(title string) []Tag {
	if title == "" {
		return nil
	}
	tokens := scanPattern.FindAllString(title, -1)
	if len(tokens) == 0 {
		return nil
	}
	tags := make([]Tag, 0, len(tokens))
	for _, tok := range tokens {
		tags = append(tags, ParseTag(tok))
	}
	return tags
}

func splitFilters(args string) []string {
	var names []string
	for _, part := range strings.Split(args, ",") {
		if p := strings.TrimSpace(part); p != "" {
			names = append(names, p)
		}
	}
	return names
}
