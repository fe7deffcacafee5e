package mistralocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinvox/clinvox/pkg/clinerr"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\nrest-of-image")

func pdfBytes() []byte {
	return []byte("%PDF-1.4\nfake clinical report body")
}

// ocrServer returns a test server that asserts the wire contract and responds
// with the given pages and processed-page count.
func ocrServer(t *testing.T, wantDocType string, pages []string, processed int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ocr" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "key" {
			t.Errorf("unexpected x-api-key header: %q", got)
		}

		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		doc, _ := captured["document"].(map[string]any)
		if doc["type"] != wantDocType {
			t.Errorf("document type = %v, want %s", doc["type"], wantDocType)
		}

		type pageJSON struct {
			Index    int    `json:"index"`
			Markdown string `json:"markdown"`
		}
		out := struct {
			Pages     []pageJSON     `json:"pages"`
			UsageInfo map[string]int `json:"usage_info"`
		}{UsageInfo: map[string]int{"pages_processed": processed}}
		for i, md := range pages {
			out.Pages = append(out.Pages, pageJSON{Index: i, Markdown: md})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
	return srv, &captured
}

// TestExtractPDF_PagesJoined verifies the request shape and the per-page text
// assembly.
func TestExtractPDF_PagesJoined(t *testing.T) {
	srv, captured := ocrServer(t, "document_url", []string{
		"Receta médica para Pepito Gómez",
		"Tratamiento: metformina 850mg",
	}, 2)
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.ExtractPDF(context.Background(), pdfBytes(), 50)
	if err != nil {
		t.Fatalf("ExtractPDF: %v", err)
	}

	if res.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", res.PageCount)
	}
	for _, want := range []string{
		"--- Página 1 ---",
		"Receta médica para Pepito Gómez",
		"--- Página 2 ---",
		"Tratamiento: metformina 850mg",
	} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("text missing %q:\n%s", want, res.Text)
		}
	}

	if (*captured)["model"] != DefaultModel {
		t.Errorf("request model = %v, want %s", (*captured)["model"], DefaultModel)
	}
	doc := (*captured)["document"].(map[string]any)
	url, _ := doc["document_url"].(string)
	const prefix = "data:application/pdf;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("document_url does not carry a PDF data URL: %.40s", url)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("decode data URL: %v", err)
	}
	if string(decoded) != string(pdfBytes()) {
		t.Error("data URL does not round-trip the input bytes")
	}
}

// TestExtractPDF_CapsPages verifies that maxPages truncates the text while
// PageCount still reports the document total.
func TestExtractPDF_CapsPages(t *testing.T) {
	srv, _ := ocrServer(t, "document_url", []string{
		"primera página del informe",
		"segunda página del informe",
		"tercera página del informe",
	}, 3)
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.ExtractPDF(context.Background(), pdfBytes(), 2)
	if err != nil {
		t.Fatalf("ExtractPDF: %v", err)
	}
	if res.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3", res.PageCount)
	}
	if !strings.Contains(res.Text, "segunda página") {
		t.Errorf("page within cap missing:\n%s", res.Text)
	}
	if strings.Contains(res.Text, "tercera página") {
		t.Errorf("page beyond cap present:\n%s", res.Text)
	}
}

// TestExtractPDF_RejectsNonPDF verifies magic-byte validation happens before
// any request.
func TestExtractPDF_RejectsNonPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid input")
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, data := range [][]byte{nil, []byte("no es un pdf")} {
		_, err := p.ExtractPDF(context.Background(), data, 50)
		if err == nil {
			t.Fatal("expected error")
		}
		if got := clinerr.KindOf(err); got != clinerr.KindInvalidMedia {
			t.Errorf("KindOf = %v, want KindInvalidMedia", got)
		}
	}
}

// TestExtractImage_DataURL verifies MIME sniffing and the image request shape.
func TestExtractImage_DataURL(t *testing.T) {
	long := strings.Repeat("Resultado de laboratorio: glucosa 180 mg/dl. ", 5)
	srv, captured := ocrServer(t, "image_url", []string{long}, 1)
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.ExtractImage(context.Background(), pngMagic, "spa")
	if err != nil {
		t.Fatalf("ExtractImage: %v", err)
	}
	if !strings.Contains(res.Text, "glucosa 180") {
		t.Errorf("text missing OCR content:\n%s", res.Text)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0 for long text", res.Confidence)
	}

	doc := (*captured)["document"].(map[string]any)
	url, _ := doc["image_url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image_url does not carry a PNG data URL: %.40s", url)
	}
}

// TestExtractImage_ConfidenceScalesWithText verifies the length heuristic.
func TestExtractImage_ConfidenceScalesWithText(t *testing.T) {
	srv, _ := ocrServer(t, "image_url", []string{"Paracetamol 500mg cada 8 horas"}, 1)
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.ExtractImage(context.Background(), pngMagic, "spa")
	if err != nil {
		t.Fatalf("ExtractImage: %v", err)
	}
	if math.Abs(res.Confidence-0.30) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.30 for 30 characters", res.Confidence)
	}
}

// TestExtractImage_UnsupportedFormat verifies that unknown magic bytes are
// rejected locally.
func TestExtractImage_UnsupportedFormat(t *testing.T) {
	p, err := New("key", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.ExtractImage(context.Background(), []byte("GIF89a..."), "spa")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := clinerr.KindOf(err); got != clinerr.KindInvalidMedia {
		t.Errorf("KindOf = %v, want KindInvalidMedia", got)
	}
}

// TestExtract_ErrorMapping verifies clinerr classification of API failures.
func TestExtract_ErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantKind  clinerr.Kind
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, clinerr.KindProviderUnavailable, false},
		{"rate limited", http.StatusTooManyRequests, clinerr.KindRateLimited, true},
		{"server error", http.StatusInternalServerError, clinerr.KindProviderUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			p, err := New("key", WithBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.ExtractPDF(context.Background(), pdfBytes(), 50)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := clinerr.KindOf(err); got != tc.wantKind {
				t.Errorf("KindOf = %v, want %v", got, tc.wantKind)
			}
			if got := clinerr.IsRetryable(err); got != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

// TestNew_MissingAPIKey checks that an empty API key is rejected.
func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestSniffImage verifies format detection by magic bytes.
func TestSniffImage(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"png", pngMagic, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "image/jpeg"},
		{"tiff little endian", []byte("II*\x00data"), "image/tiff"},
		{"tiff big endian", []byte("MM\x00*data"), "image/tiff"},
		{"unknown", []byte("GIF89a"), ""},
		{"empty", nil, ""},
	}
	for _, tc := range cases {
		if got := sniffImage(tc.data); got != tc.want {
			t.Errorf("%s: sniffImage = %q, want %q", tc.name, got, tc.want)
		}
	}
}
