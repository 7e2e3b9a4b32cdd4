package fileserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(content)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(t.TempDir(), 1<<20, 3)
}

func doUpload(t *testing.T, s *Service, field string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, files)
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Upload(rec, req)
	return rec
}

func TestUploadMultipleFiles(t *testing.T) {
	s := newTestService(t)
	rec := doUpload(t, s, "files", map[string][]byte{
		"a.png": pngHeader,
		"b.txt": []byte("заметка"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Files) != 2 {
		t.Fatalf("файлов в ответе %d, want 2", len(resp.Files))
	}
	for _, f := range resp.Files {
		if f.URL == "" || f.StoredName == "" {
			t.Errorf("неполные метаданные: %+v", f)
		}
		if _, err := os.Stat(filepath.Join(s.UploadDir, f.StoredName+".gz")); err != nil {
			t.Errorf("файл %s не сохранён: %v", f.StoredName, err)
		}
	}
}

func TestUploadAvatarFieldFallback(t *testing.T) {
	s := newTestService(t)
	rec := doUpload(t, s, "file", map[string][]byte{"avatar.png": pngHeader})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestUploadRejectsTooManyFiles(t *testing.T) {
	s := newTestService(t)
	files := make(map[string][]byte)
	for i := 0; i < s.MaxFiles+1; i++ {
		files[fmt.Sprintf("f%d.txt", i)] = []byte("x")
	}
	rec := doUpload(t, s, "files", files)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadRejectsBlockedExtension(t *testing.T) {
	s := newTestService(t)
	rec := doUpload(t, s, "files", map[string][]byte{"malware.exe": {0x4D, 0x5A}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadRejectsWholeBatchOnOneBadFile(t *testing.T) {
	s := newTestService(t)
	rec := doUpload(t, s, "files", map[string][]byte{
		"ok.txt":  []byte("нормальный"),
		"evil.sh": []byte("#!/bin/sh"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	// Ни один файл партии не должен быть сохранён.
	entries, err := os.ReadDir(s.UploadDir)
	if err == nil && len(entries) != 0 {
		t.Errorf("в каталоге осталось %d файлов, want 0", len(entries))
	}
}

func TestUploadRejectsMismatchedMagic(t *testing.T) {
	s := newTestService(t)
	// .png с телом не-PNG: содержимое не совпадает с заявленным типом.
	rec := doUpload(t, s, "files", map[string][]byte{"fake.png": []byte("просто текст")})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServeRoundTrip(t *testing.T) {
	s := newTestService(t)
	rec := doUpload(t, s, "files", map[string][]byte{"note.txt": []byte("содержимое файла")})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: %d", rec.Code)
	}
	var resp UploadResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	req := httptest.NewRequest(http.MethodGet, "/api/files/"+resp.Files[0].StoredName, nil)
	out := httptest.NewRecorder()
	s.Serve(out, req, resp.Files[0].StoredName)

	if out.Code != http.StatusOK {
		t.Fatalf("serve status = %d", out.Code)
	}
	// Хранится gzip, наружу отдаётся исходное содержимое.
	if got := out.Body.String(); got != "содержимое файла" {
		t.Errorf("body = %q", got)
	}
}

func TestServeUnknownFile(t *testing.T) {
	s := newTestService(t)
	req := httptest.NewRequest(http.MethodGet, "/api/files/nope.txt", nil)
	out := httptest.NewRecorder()
	s.Serve(out, req, "nope.txt")
	if out.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", out.Code)
	}
}

func TestSafeFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"отчёт.pdf", "отчёт.pdf"},
		{`a"b\c/d.txt`, "abcd.txt"},
		{"  имя.txt  ", "имя.txt"},
		{"evil\r\nname.txt", "evilname.txt"},
	}
	for _, tc := range cases {
		if got := safeFilename(tc.in); got != tc.want {
			t.Errorf("safeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
