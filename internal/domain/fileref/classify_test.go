package fileref

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"x.JPG", KindImage},
		{"x.jpeg", KindImage},
		{"/uploads/a.png", KindImage},
		{"a.GiF", KindImage},
		{"photo.webp", KindImage},
		{"report.pdf", KindPDF},
		{"REPORT.PDF", KindPDF},
		{"notes.docx", KindOther},
		{"archive.tar.gz", KindOther},
		{"x", KindOther},
		{"", KindOther},
		{"trailingdot.", KindOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.in); got != tt.want {
			t.Errorf("Classify(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
