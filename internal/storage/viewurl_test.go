package storage

import (
	"strings"
	"testing"
)

const sampleImageURL = "http://res.cloudinary.com/demo/image/upload/v1712/evidencias/report.pdf"

func TestViewURL(t *testing.T) {
	tests := []struct {
		name  string
		asset Asset
		want  string
	}{
		{
			name:  "pdf",
			asset: Asset{SecureURL: sampleImageURL, MimeType: "application/pdf", OriginalName: "report.pdf"},
			want:  "https://res.cloudinary.com/demo/image/upload/fl_attachment:false/v1712/evidencias/report.pdf#view=FitH&toolbar=0&navpanes=0",
		},
		{
			name:  "plain text moves to raw",
			asset: Asset{SecureURL: "https://res.cloudinary.com/demo/image/upload/v1/evidencias/notes.txt", MimeType: "text/plain", OriginalName: "notes.txt"},
			want:  "https://res.cloudinary.com/demo/raw/upload/fl_attachment:false/v1/evidencias/notes.txt",
		},
		{
			name:  "image only inline",
			asset: Asset{SecureURL: "http://res.cloudinary.com/demo/image/upload/v1/perfiles/me.png", MimeType: "image/png", OriginalName: "me.png"},
			want:  "https://res.cloudinary.com/demo/image/upload/fl_attachment:false/v1/perfiles/me.png",
		},
		{
			name:  "scheme relative",
			asset: Asset{SecureURL: "//res.cloudinary.com/demo/image/upload/v1/a.jpg", MimeType: "image/jpeg", OriginalName: "a.jpg"},
			want:  "https://res.cloudinary.com/demo/image/upload/fl_attachment:false/v1/a.jpg",
		},
		{
			name:  "pdf replaces existing fragment",
			asset: Asset{SecureURL: "https://res.cloudinary.com/demo/image/upload/v1/a.pdf#page=2", MimeType: "application/pdf", OriginalName: "a.pdf"},
			want:  "https://res.cloudinary.com/demo/image/upload/fl_attachment:false/v1/a.pdf#view=FitH&toolbar=0&navpanes=0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ViewURL(tt.asset)
			if got.ViewURL != tt.want {
				t.Fatalf("ViewURL() = %q\nwant        %q", got.ViewURL, tt.want)
			}
			if got.DisplayName != tt.asset.OriginalName {
				t.Fatalf("DisplayName = %q, want %q", got.DisplayName, tt.asset.OriginalName)
			}
		})
	}
}

func TestViewURL_PDFInvariants(t *testing.T) {
	for _, in := range []string{sampleImageURL, "https://res.cloudinary.com/demo/raw/upload/v2/x.pdf"} {
		got := ViewURL(Asset{SecureURL: in, MimeType: MimePDF}).ViewURL
		if !strings.HasPrefix(got, "https://") {
			t.Errorf("%q: missing https prefix", got)
		}
		if !strings.Contains(got, "fl_attachment:false") {
			t.Errorf("%q: missing inline token", got)
		}
		if !strings.Contains(got, "#view=FitH") {
			t.Errorf("%q: missing fit-to-height fragment", got)
		}
	}
}

func TestViewURL_Idempotent(t *testing.T) {
	inputs := []Asset{
		{SecureURL: sampleImageURL, MimeType: "application/pdf"},
		{SecureURL: sampleImageURL, MimeType: "text/plain"},
		{SecureURL: sampleImageURL, MimeType: "application/vnd.ms-excel"},
		{SecureURL: sampleImageURL, MimeType: "image/webp"},
		{SecureURL: "https://res.cloudinary.com/demo/image/upload/v1/a.png#frag", MimeType: "image/png"},
		{SecureURL: "http://example.com/no-delivery-segment", MimeType: "text/csv"},
		{SecureURL: "", MimeType: ""},
		{SecureURL: "https://res.cloudinary.com/demo/image/upload/v1/evidencias/image/upload/a.txt", MimeType: "text/plain"},
		{SecureURL: "HTTP://res.cloudinary.com/demo/image/upload/v1/a.pdf", MimeType: "application/pdf"},
		{SecureURL: "Http://res.cloudinary.com/demo/image/upload/v1/a.png", MimeType: "image/png"},
	}
	for _, in := range inputs {
		once := ViewURL(in)
		twice := ViewURL(Asset{SecureURL: once.ViewURL, MimeType: in.MimeType, OriginalName: once.DisplayName})
		if once != twice {
			t.Errorf("not idempotent for %+v:\n once  %q\n twice %q", in, once.ViewURL, twice.ViewURL)
		}
	}
}

func TestViewURL_NonImageUsesRawCategory(t *testing.T) {
	got := ViewURL(Asset{SecureURL: sampleImageURL, MimeType: "text/plain"}).ViewURL
	if !strings.Contains(got, rawCategory) || strings.Contains(got, imageCategory) {
		t.Fatalf("expected raw delivery category, got %q", got)
	}
}

func TestViewURL_OnlyDeliveryCategoryIsRewritten(t *testing.T) {
	in := "https://res.cloudinary.com/demo/image/upload/v1/evidencias/image/upload/a.txt"
	want := "https://res.cloudinary.com/demo/raw/upload/fl_attachment:false/v1/evidencias/image/upload/a.txt"
	if got := ViewURL(Asset{SecureURL: in, MimeType: "text/plain"}).ViewURL; got != want {
		t.Fatalf("ViewURL = %q, want %q", got, want)
	}
}

func TestViewURL_SchemeIsCaseInsensitive(t *testing.T) {
	for _, in := range []string{
		"HTTP://res.cloudinary.com/demo/image/upload/v1/a.pdf",
		"hTtP://res.cloudinary.com/demo/image/upload/v1/a.pdf",
		"HTTPS://res.cloudinary.com/demo/image/upload/v1/a.pdf",
	} {
		got := ViewURL(Asset{SecureURL: in, MimeType: MimePDF}).ViewURL
		if !strings.HasPrefix(got, "https://res.cloudinary.com/") {
			t.Errorf("%q -> %q", in, got)
		}
	}
}
