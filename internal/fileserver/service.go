package fileserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
)

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные — разрешены.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// UploadedFile — один сохранённый файл из multipart-запроса.
type UploadedFile struct {
	URL          string `json:"url"`
	StoredName   string `json:"stored_name"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	Mimetype     string `json:"mimetype"`
}

// UploadResponse — ответ после успешной загрузки всех файлов.
type UploadResponse struct {
	Files []UploadedFile `json:"files"`
}

// Service обрабатывает загрузку и раздачу вложений и аватаров.
type Service struct {
	UploadDir     string
	MaxUploadSize int64 // лимит на один файл, байты
	MaxFiles      int   // лимит на число файлов в одном запросе
}

// New создаёт сервис с заданным каталогом и лимитами.
func New(uploadDir string, maxUploadSize int64, maxFiles int) *Service {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	return &Service{UploadDir: uploadDir, MaxUploadSize: maxUploadSize, MaxFiles: maxFiles}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("fileserver writeJSON: %v", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Upload обрабатывает POST multipart/form-data с полем "files" (1..MaxFiles файлов).
// Отказ по любому файлу отклоняет весь запрос: частично сохранённые файлы удаляются.
func (s *Service) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	totalLimit := s.MaxUploadSize*int64(s.MaxFiles) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, totalLimit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "upload too large")
		return
	}
	if r.MultipartForm == nil {
		s.writeError(w, http.StatusBadRequest, "files are required")
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		// Одиночная загрузка (аватар) приходит в поле "file".
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, "files are required")
		return
	}
	if len(headers) > s.MaxFiles {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("too many files (max %d)", s.MaxFiles))
		return
	}

	// Валидация всех файлов до записи первого байта.
	for _, h := range headers {
		if h.Size > s.MaxUploadSize {
			s.writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		ext := strings.ToLower(filepath.Ext(normalizeFilename(h.Filename)))
		if BlockedExt[ext] {
			s.writeError(w, http.StatusBadRequest, "file type not allowed")
			return
		}
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create upload dir")
		return
	}

	saved := make([]UploadedFile, 0, len(headers))
	cleanup := func() {
		for _, f := range saved {
			os.Remove(filepath.Join(s.UploadDir, f.StoredName+".gz"))
		}
	}
	for _, h := range headers {
		uf, err := s.saveOne(ctx, h)
		if err != nil {
			cleanup()
			if ctx.Err() != nil {
				return
			}
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved = append(saved, *uf)
	}

	s.writeJSON(w, http.StatusOK, UploadResponse{Files: saved})
}

func (s *Service) saveOne(ctx context.Context, h *multipart.FileHeader) (*UploadedFile, error) {
	file, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read file")
	}
	defer file.Close()

	rawFilename := normalizeFilename(h.Filename)
	ext := strings.ToLower(filepath.Ext(rawFilename))

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(file, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return nil, fmt.Errorf("file content does not match type")
	}

	newName := uuid.New().String() + ext
	// Сохраняем в сжатом виде (.gz) для экономии места
	dstPath := filepath.Join(s.UploadDir, newName+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("failed to save file")
	}
	gz := gzip.NewWriter(dst)
	if _, err := gz.Write(head); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return nil, fmt.Errorf("failed to save file")
	}
	if err := copyWithContext(ctx, gz, file); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return nil, err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return nil, fmt.Errorf("failed to save file")
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("failed to save file")
	}

	// Имя для отображения: только базовая часть без пути, безопасные символы; иначе — сгенерированное
	displayName := strings.TrimSpace(filepath.Base(rawFilename))
	if displayName == "" || safeFilename(displayName) == "" {
		displayName = newName
	} else {
		displayName = safeFilename(displayName)
	}

	mimetype := contentTypeByExt(ext)
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}

	return &UploadedFile{
		URL:          "/api/files/" + newName,
		StoredName:   newName,
		OriginalName: displayName,
		Size:         h.Size,
		Mimetype:     mimetype,
	}, nil
}

// В ряде клиентов/прокси пробел в имени кодируется как "+"; нормализуем для отображения и расширения.
func normalizeFilename(name string) string {
	return strings.ReplaceAll(name, "+", " ")
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic":
		return len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) && (bytes.Equal(head[8:12], []byte("heic")) || bytes.Equal(head[8:12], []byte("heix")) || bytes.Equal(head[8:12], []byte("mif1")))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".doc":
		return len(head) >= 8 && head[0] == 0xD0 && head[1] == 0xCF && head[2] == 0x11 && head[3] == 0xE0
	case ".docx":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
	case ".txt":
		return true
	}
	return true
}

// Serve отдаёт файл по имени (разархивирует при отдаче); query name= — оригинальное имя для Content-Disposition.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	gzPath := filepath.Join(s.UploadDir, filename+".gz")
	plainPath := filepath.Join(s.UploadDir, filename)

	if ct := contentTypeByExt(ext); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if origName := r.URL.Query().Get("name"); origName != "" {
		// В URL пробел может приходить как "+"; нормализуем для сохранения имени при скачивании (UTF-8).
		origName = strings.TrimSpace(strings.ReplaceAll(origName, "+", " "))
		safe := safeFilename(origName)
		if safe != "" {
			disp := "attachment; filename*=UTF-8''" + url.QueryEscape(safe)
			// Legacy filename= с ASCII искажает кириллицу (подчёркивания) — не добавляем его,
			// чтобы панель загрузки браузера показывала имя из filename*=UTF-8''.
			if ascii := asciiFallbackFilename(safe); ascii != "" && ascii == safe {
				disp = "attachment; filename=\"" + ascii + "\"; " + disp
			}
			w.Header().Set("Content-Disposition", disp)
		}
	}

	// Сначала сжатый .gz, иначе — обычный файл (обратная совместимость)
	if f, err := os.Open(gzPath); err == nil {
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to read file")
			return
		}
		defer gz.Close()
		w.WriteHeader(http.StatusOK)
		io.Copy(w, gz)
		return
	}
	if f, err := os.Open(plainPath); err == nil {
		defer f.Close()
		w.WriteHeader(http.StatusOK)
		io.Copy(w, f)
		return
	}
	s.writeError(w, http.StatusNotFound, "file not found")
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	}
	return ""
}

// safeFilename оставляет имя файла безопасным для Content-Disposition (без управляющих символов и кавычек).
// Поддерживается UTF-8, чтобы сохранять кириллицу и другие языки.
func safeFilename(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// asciiFallbackFilename возвращает имя только из ASCII для legacy filename= в Content-Disposition.
// Пробелы и не-ASCII заменяются на подчёркивание, чтобы не появлялось "+" в предложенном имени.
func asciiFallbackFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}
