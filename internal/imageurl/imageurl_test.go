package imageurl_test

import (
	"testing"

	"github.com/centralreports/reportd/internal/imageurl"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"https://example.com/a.png", "https://example.com/a.png"},
		{"https://drive.google.com/file/d/abc_123-X/view?usp=sharing", "https://lh3.googleusercontent.com/d/abc_123-X"},
		{"https://drive.google.com/open?id=XYZ", "https://lh3.googleusercontent.com/d/XYZ"},
		{"https://drive.google.com/uc?export=view&id=q-9", "https://lh3.googleusercontent.com/d/q-9"},
		{"https://drive.google.com/drive/folders", "https://drive.google.com/drive/folders"},
		{"https://lh3.googleusercontent.com/d/abc", "https://lh3.googleusercontent.com/d/abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, imageurl.Normalize(tt.in), tt.in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"https://drive.google.com/file/d/abc/view",
		"https://drive.google.com/open?id=XYZ",
		"https://cdn.example.org/x.jpg",
		"not a url",
	}
	for _, in := range inputs {
		once := imageurl.Normalize(in)
		assert.Equal(t, once, imageurl.Normalize(once), in)
	}
}
