package render

import (
	"bytes"
	"testing"
)

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{})
	err := r.Render(nil, []string{"FAMILY", "MAPPED"}, [][]string{{"user", "12"}, {"discussion_post", "3"}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "FAMILY           MAPPED\n" +
		"---------------  ------\n" +
		"user             12\n" +
		"discussion_post  3\n"
	if buf.String() != want {
		t.Errorf("table mismatch:\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(&buf, Options{}).RenderTable([]string{"A"}, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestRenderStructured(t *testing.T) {
	data := map[string]int{"user": 2}

	var js bytes.Buffer
	if err := NewRenderer(&js, Options{Format: FormatJSON}).Render(data, nil, nil); err != nil {
		t.Fatal(err)
	}
	if js.String() != "{\n  \"user\": 2\n}\n" {
		t.Errorf("json = %q", js.String())
	}

	var ym bytes.Buffer
	if err := NewRenderer(&ym, Options{Format: FormatYAML}).Render(data, nil, nil); err != nil {
		t.Fatal(err)
	}
	if ym.String() != "user: 2\n" {
		t.Errorf("yaml = %q", ym.String())
	}
}

func TestFormatFromFlags(t *testing.T) {
	tests := []struct {
		json, yaml, tsv bool
		want            Format
		wantErr         bool
	}{
		{want: FormatTable},
		{json: true, want: FormatJSON},
		{yaml: true, want: FormatYAML},
		{tsv: true, want: FormatTSV},
		{json: true, yaml: true, wantErr: true},
	}
	for _, tt := range tests {
		got, err := FormatFromFlags(tt.json, tt.yaml, tt.tsv)
		if (err != nil) != tt.wantErr {
			t.Errorf("FormatFromFlags(%v,%v,%v) err = %v", tt.json, tt.yaml, tt.tsv, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatFromFlags(%v,%v,%v) = %q, want %q", tt.json, tt.yaml, tt.tsv, got, tt.want)
		}
	}
}
