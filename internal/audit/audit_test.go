package audit

import (
	"errors"
	"testing"

	"htmldedup/pkg/contract"
)

const page = `<html><body>
<div class="demo-stage" id="demoStage"><p>one</p></div>
<div class="demo-stage" id="demoStage"><p>two</p></div>
<div class="demo-modal" id="demoModal"></div>
<section id="s1"></section>
</body></html>`

func TestCount(t *testing.T) {
	d, err := Parse(page)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		sel  string
		want int
	}{
		{"#demoStage", 2},
		{".demo-stage", 2},
		{".demo-modal", 1},
		{"section", 1},
		{".demo-progress-bar", 0},
	}
	for _, c := range cases {
		if got := d.Count(c.sel); got != c.want {
			t.Fatalf("Count(%q) = %d, want %d", c.sel, got, c.want)
		}
	}
}

func TestValidateSelector(t *testing.T) {
	for _, sel := range []string{"", "  ", "div[", ":nope("} {
		if err := ValidateSelector(sel); !errors.Is(err, contract.ErrPatternInvalid) {
			t.Fatalf("ValidateSelector(%q) = %v, want ErrPatternInvalid", sel, err)
		}
	}
	if err := ValidateSelector("div.demo-modal > p"); err != nil {
		t.Fatalf("valid selector rejected: %v", err)
	}
}

func TestDuplicateIDs(t *testing.T) {
	d, err := Parse(page)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dups := d.DuplicateIDs()
	if len(dups) != 1 || dups[0].ID != "demoStage" || dups[0].Count != 2 {
		t.Fatalf("dups = %+v", dups)
	}
	clean, _ := Parse(`<div id="a"></div><div id="b"></div>`)
	if got := clean.DuplicateIDs(); len(got) != 0 {
		t.Fatalf("unexpected dups: %+v", got)
	}
}

func TestNilDoc(t *testing.T) {
	var d *Doc
	if d.Count("div") != 0 || d.DuplicateIDs() != nil {
		t.Fatal("nil doc should be empty")
	}
}

func TestParseMalformed(t *testing.T) {
	d, err := Parse(`<div class="x"><div class="x"></div>`)
	if err != nil {
		t.Fatalf("malformed html should parse: %v", err)
	}
	if n := d.Count(".x"); n != 2 {
		t.Fatalf("count = %d", n)
	}
}
