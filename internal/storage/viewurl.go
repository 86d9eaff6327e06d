package storage

import "strings"

const (
	MimePDF         = "application/pdf"
	mimeImagePrefix = "image/"

	deliverySegment = "/upload/"
	inlineSegment   = "/upload/fl_attachment:false/"
	imageCategory   = "/image/upload/"
	rawCategory     = "/raw/upload/"
	pdfViewFragment = "view=FitH&toolbar=0&navpanes=0"
)

// Asset is what the store reports back after an upload.
type Asset struct {
	SecureURL    string `json:"secureUrl"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName"`
}

// AssetReference is the display form of an uploaded asset.
type AssetReference struct {
	ViewURL     string `json:"viewUrl"`
	DisplayName string `json:"displayName"`
}

// ViewURL builds the URL that renders an asset in the browser instead of
// downloading it. PDFs get a viewer fragment, non-image files are moved to
// the raw delivery category. ViewURL(ViewURL(x)) yields the same URL.
func ViewURL(a Asset) AssetReference {
	base, fragment, _ := strings.Cut(a.SecureURL, "#")

	switch {
	case a.MimeType == MimePDF:
		base = inline(base)
		fragment = pdfViewFragment
	case !strings.HasPrefix(a.MimeType, mimeImagePrefix):
		base = inline(rawDelivery(base))
	default:
		base = inline(base)
	}

	viewURL := forceHTTPS(base)
	if fragment != "" {
		viewURL += "#" + fragment
	}
	return AssetReference{ViewURL: viewURL, DisplayName: a.OriginalName}
}

// inline disables forced download on the delivery segment, the first
// "/upload/" in the URL. The token is only inserted once.
func inline(u string) string {
	i := strings.Index(u, deliverySegment)
	if i < 0 || strings.HasPrefix(u[i:], inlineSegment) {
		return u
	}
	return u[:i] + inlineSegment + u[i+len(deliverySegment):]
}

// rawDelivery moves the asset to the raw category. Only the category in
// front of the delivery segment is touched; later path segments that look
// like "/image/upload/" belong to the public id.
func rawDelivery(u string) string {
	i := strings.Index(u, deliverySegment)
	if i < 0 {
		return u
	}
	head := u[:i+len(deliverySegment)]
	if !strings.HasSuffix(head, imageCategory) {
		return u
	}
	return strings.TrimSuffix(head, imageCategory) + rawCategory + u[i+len(deliverySegment):]
}

// forceHTTPS rewrites http (in any letter case) and scheme-relative URLs to
// https.
func forceHTTPS(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	scheme, rest, ok := strings.Cut(u, "://")
	if ok && (strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https")) {
		return "https://" + rest
	}
	return u
}
