package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in           string
		wantEndpoint string
		wantSecure   bool
		wantErr      bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://minio:9000", "minio:9000", true, false},
		{"http://minio:9000/", "minio:9000", false, false},
		{"http://minio:9000/foo", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		ep, secure, err := normaliseEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for input %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.in, err)
		}
		if ep != tt.wantEndpoint || secure != tt.wantSecure {
			t.Fatalf("normaliseEndpoint(%q) = (%q,%v), want (%q,%v)", tt.in, ep, secure, tt.wantEndpoint, tt.wantSecure)
		}
	}
}

func TestClassifyMinio(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	if err := classifyMinio("stat", notFound); !errors.Is(err, ErrNotFound) {
		t.Fatalf("NoSuchKey should classify as not found, got %v", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."}
	err := classifyMinio("stat", denied)
	if errors.Is(err, ErrNotFound) {
		t.Fatal("AccessDenied must not classify as not found")
	}
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Backend != "minio" || opErr.Op != "stat" {
		t.Fatalf("expected *OpError, got %#v", err)
	}

	if classifyMinio("stat", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

const (
	testBucket     = "assets"
	profilesPolicy = `{"Sid":"ProfilesRead","Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::assets/perfiles/*"]}`
)

type policyStatements struct {
	Statement []struct {
		Sid      string
		Resource []string
	}
}

func parsePolicy(t *testing.T, p string) policyStatements {
	t.Helper()
	var doc policyStatements
	if err := json.Unmarshal([]byte(p), &doc); err != nil {
		t.Fatalf("policy is not valid JSON: %v\n%s", err, p)
	}
	return doc
}

func (d policyStatements) sids() string {
	var out []string
	for _, st := range d.Statement {
		out = append(out, st.Sid)
	}
	return strings.Join(out, ",")
}

func TestMergePublicRead(t *testing.T) {
	onlyProfiles := `{"Version":"2012-10-17","Statement":[` + profilesPolicy + `]}`
	onlyOurs, err := mergePublicRead("", testBucket, "evidencias/", true)
	if err != nil {
		t.Fatal(err)
	}
	both, err := mergePublicRead(onlyProfiles, testBucket, "evidencias", true)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		current  string
		public   bool
		wantSids string
	}{
		{"public on empty bucket", "", true, "PublicReadevidencias"},
		{"public keeps other statements", onlyProfiles, true, "ProfilesRead,PublicReadevidencias"},
		{"public twice does not duplicate", both, true, "ProfilesRead,PublicReadevidencias"},
		{"authenticated removes only ours", both, false, "ProfilesRead"},
		{"authenticated leaves others alone", onlyProfiles, false, "ProfilesRead"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mergePublicRead(tt.current, testBucket, "evidencias", tt.public)
			if err != nil {
				t.Fatalf("mergePublicRead: %v", err)
			}
			if sids := parsePolicy(t, got).sids(); sids != tt.wantSids {
				t.Fatalf("sids = %q, want %q", sids, tt.wantSids)
			}
		})
	}

	doc := parsePolicy(t, onlyOurs)
	if got := doc.Statement[0].Resource[0]; got != "arn:aws:s3:::assets/evidencias/*" {
		t.Fatalf("resource = %q", got)
	}
}

func TestMergePublicRead_EmptyResult(t *testing.T) {
	ours, _ := mergePublicRead("", testBucket, "evidencias", true)
	got, err := mergePublicRead(ours, testBucket, "evidencias", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("policy = %s, want none", got)
	}
	if _, err := mergePublicRead("{not json", testBucket, "evidencias", true); err == nil {
		t.Fatal("expected parse error")
	}
}

// fakeS3 is a single-bucket, path-style S3 endpoint covering the object
// writes and policy calls the adapter makes.
type fakeS3 struct {
	t *testing.T

	mu           sync.Mutex
	policy       string
	policyWrites []string
	puts         map[string]http.Header
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != testBucket {
		f.t.Errorf("unexpected bucket in %s", r.URL.Path)
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)
	_, isPolicy := r.URL.Query()["policy"]

	switch {
	case isPolicy && r.Method == http.MethodGet:
		if f.policy == "" {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchBucketPolicy</Code><Message>The bucket policy does not exist</Message><BucketName>assets</BucketName></Error>`)
			return
		}
		io.WriteString(w, f.policy)

	case isPolicy && r.Method == http.MethodPut:
		f.policy = string(body)
		f.policyWrites = append(f.policyWrites, "put")
		w.WriteHeader(http.StatusNoContent)

	case isPolicy && r.Method == http.MethodDelete:
		f.policy = ""
		f.policyWrites = append(f.policyWrites, "delete")
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPut && key != "":
		if f.puts == nil {
			f.puts = make(map[string]http.Header)
		}
		f.puts[key] = r.Header.Clone()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)

	default:
		f.t.Errorf("unhandled %s %s", r.Method, r.URL.String())
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newFakeMinioStore(t *testing.T, f *fakeS3) *MinioStore {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4("key", "secret", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio.New: %v", err)
	}
	return &MinioStore{client: client, bucket: testBucket, defaults: make(map[string]DeliveryParams)}
}

func TestMinioStore_SetAccessModeKeepsOtherStatements(t *testing.T) {
	f := &fakeS3{policy: `{"Version":"2012-10-17","Statement":[` + profilesPolicy + `]}`}
	s := newFakeMinioStore(t, f)
	ctx := context.Background()

	if err := s.SetAccessMode(ctx, AccessPublic, NamespaceEvidence, KindRaw); err != nil {
		t.Fatalf("public: %v", err)
	}
	if sids := parsePolicy(t, f.policy).sids(); sids != "ProfilesRead,PublicReadevidencias" {
		t.Fatalf("after public: sids = %q", sids)
	}

	if err := s.SetAccessMode(ctx, AccessAuthenticated, NamespaceEvidence, KindRaw); err != nil {
		t.Fatalf("authenticated: %v", err)
	}
	if sids := parsePolicy(t, f.policy).sids(); sids != "ProfilesRead" {
		t.Fatalf("after authenticated: sids = %q", sids)
	}
	if got := strings.Join(f.policyWrites, ","); got != "put,put" {
		t.Fatalf("policy writes = %s", got)
	}
}

func TestMinioStore_SetAccessModeRemovesLastStatement(t *testing.T) {
	f := &fakeS3{}
	s := newFakeMinioStore(t, f)
	ctx := context.Background()

	// No policy yet and nothing to revoke.
	if err := s.SetAccessMode(ctx, AccessAuthenticated, NamespaceEvidence, KindRaw); err != nil {
		t.Fatal(err)
	}
	if len(f.policyWrites) != 0 {
		t.Fatalf("policy writes = %v", f.policyWrites)
	}

	if err := s.SetAccessMode(ctx, AccessPublic, NamespaceEvidence, KindRaw); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAccessMode(ctx, AccessAuthenticated, NamespaceEvidence, KindRaw); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(f.policyWrites, ","); got != "put,delete" {
		t.Fatalf("policy writes = %s", got)
	}
	if f.policy != "" {
		t.Fatalf("policy = %s", f.policy)
	}
}

func TestMinioStore_PDFUploadIsAttachment(t *testing.T) {
	f := &fakeS3{}
	s := newFakeMinioStore(t, f)
	ctx := context.Background()

	if err := s.SetDefaultDelivery(ctx, "pdf", DefaultPDFDelivery); err != nil {
		t.Fatal(err)
	}
	pdf := EncodeDataURI(MimePDF, []byte("%PDF-1.4"))
	res, err := s.Upload(ctx, pdf, UploadOptions{Namespace: NamespaceEvidence, PublicID: "report.pdf", Overwrite: true})
	if err != nil {
		t.Fatalf("pdf upload: %v", err)
	}
	if res.PublicID != "evidencias/report.pdf" || res.Format != "pdf" {
		t.Fatalf("resource = %+v", res)
	}
	svg := EncodeDataURI("image/svg+xml", PlaceholderSVG("Usuario"))
	if _, err := s.Upload(ctx, svg, UploadOptions{Namespace: NamespaceProfiles, PublicID: "a.svg", Overwrite: true}); err != nil {
		t.Fatalf("svg upload: %v", err)
	}

	h := f.puts["evidencias/report.pdf"]
	if got := h.Get("Content-Disposition"); got != "attachment" {
		t.Fatalf("pdf Content-Disposition = %q", got)
	}
	if got := h.Get("Content-Type"); got != MimePDF {
		t.Fatalf("pdf Content-Type = %q", got)
	}
	if got := f.puts["perfiles/a.svg"].Get("Content-Disposition"); got != "" {
		t.Fatalf("svg Content-Disposition = %q", got)
	}
}

func TestFormatFromContentType(t *testing.T) {
	cases := map[string]string{
		"image/svg+xml":            "svg",
		"application/pdf":          "pdf",
		"text/plain; charset=utf8": "plain",
		"":                         "",
	}
	for in, want := range cases {
		if got := formatFromContentType(in); got != want {
			t.Errorf("formatFromContentType(%q) = %q, want %q", in, got, want)
		}
	}
}
