package domain

import (
	"reflect"
	"testing"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  Tag
	}{
		{
			name:  "Input Without Parens",
			token: "$sampler",
			want:  Tag{Kind: TagInput, Name: "sampler", Filters: Filter{Mode: FilterAll}, Raw: "$sampler"},
		},
		{
			name:  "Input Empty Parens",
			token: "$sampler()",
			want:  Tag{Kind: TagInput, Name: "sampler", Filters: Filter{Mode: FilterNone}, HasParens: true, Raw: "$sampler()"},
		},
		{
			name:  "Input Filter List Trimmed",
			token: "$sampler(seed, steps )",
			want: Tag{
				Kind: TagInput, Name: "sampler", HasParens: true, Raw: "$sampler(seed, steps )",
				Filters: Filter{Mode: FilterSet, Names: []string{"seed", "steps"}},
			},
		},
		{
			name:  "Input Blank Filter List Is Empty",
			token: "$sampler( , )",
			want:  Tag{Kind: TagInput, Name: "sampler", Filters: Filter{Mode: FilterNone}, HasParens: true, Raw: "$sampler( , )"},
		},
		{
			name:  "Output",
			token: "#image",
			want:  Tag{Kind: TagOutput, Name: "image", Raw: "#image"},
		},
		{
			name:  "Output With Parens Is Invalid",
			token: "#image(x)",
			want:  Tag{Kind: TagInvalid, Raw: "#image(x)"},
		},
		{
			name:  "Output With Empty Parens Is Invalid",
			token: "#image()",
			want:  Tag{Kind: TagInvalid, Raw: "#image()"},
		},
		{
			name:  "Internal",
			token: "!bypass",
			want:  Tag{Kind: TagInternal, Name: "bypass", Raw: "!bypass"},
		},
		{
			name:  "Hyphen And Digits",
			token: "$load-image_2",
			want:  Tag{Kind: TagInput, Name: "load-image_2", Raw: "$load-image_2"},
		},
		{
			name:  "Unknown Sigil",
			token: "@name",
			want:  Tag{Kind: TagInvalid, Raw: "@name"},
		},
		{
			name:  "Bad Identifier",
			token: "$na me",
			want:  Tag{Kind: TagInvalid, Raw: "$na me"},
		},
		{
			name:  "Empty",
			token: "",
			want:  Tag{Kind: TagInvalid},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTag(tt.token)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTag(%q) = %+v, want %+v", tt.token, got, tt.want)
			}
		})
	}
}

func TestParseTag_OutputParensAlwaysInvalid(t *testing.T) {
	for _, arg := range []string{"", "a", "a,b", " x "} {
		tag := ParseTag("#out(" + arg + ")")
		if tag.Valid() {
			t.Errorf("#out(%s) should be invalid, got kind %s", arg, tag.Kind)
		}
	}
}

func TestScanTags(t *testing.T) {
	tags := ScanTags("KSampler $sampler(seed) #preview !cache")
	if len(tags) != 3 {
		t.Fatalf("expected 3 tags, got %d: %+v", len(tags), tags)
	}

	want := []string{"$sampler", "#preview", "!cache"}
	for i, tok := range want {
		if tags[i].Token() != tok {
			t.Errorf("tag %d: expected token %s, got %s", i, tok, tags[i].Token())
		}
	}
	if !tags[0].Allows("seed") || tags[0].Allows("steps") {
		t.Errorf("filter of %s not applied", tags[0].Raw)
	}

	if got := ScanTags("Load Checkpoint"); got != nil {
		t.Errorf("expected no tags, got %+v", got)
	}
}
