// Package server implements the multipart file-upload side channel. The
// relay core never sees uploaded bytes; clients share the returned reference
// URL through a file-type frame instead.
package server

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type uploadResponse struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type uploadError struct {
	Error string `json:"error"`
}

// UploadHandler accepts a multipart upload with a "file" part and a "roomId"
// field, stores the bytes under a generated unique name in the upload
// directory, and returns the retrievable reference URL.
func UploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, uploadError{Error: "upload endpoint only accepts POST requests"})
		return
	}

	cfg := currentConfig()
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, uploadError{Error: "uploaded file is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, uploadError{Error: "no file provided"})
		return
	}
	defer func() { _ = file.Close() }()

	if r.FormValue("roomId") == "" {
		writeJSON(w, http.StatusBadRequest, uploadError{Error: "missing room parameter"})
		return
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Printf("Error creating upload directory %q: %v", cfg.UploadDir, err)
		writeJSON(w, http.StatusInternalServerError, uploadError{Error: "file upload failed"})
		return
	}

	// Stored name keeps only the extension of the original; the generated
	// UUID prevents collisions and path traversal through client-supplied
	// filenames.
	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	dst, err := os.Create(filepath.Join(cfg.UploadDir, name))
	if err != nil {
		log.Printf("Error creating upload file: %v", err)
		writeJSON(w, http.StatusInternalServerError, uploadError{Error: "file upload failed"})
		return
	}
	defer func() { _ = dst.Close() }()

	size, err := io.Copy(dst, file)
	if err != nil {
		log.Printf("Error storing upload from %s: %v", r.RemoteAddr, err)
		writeJSON(w, http.StatusInternalServerError, uploadError{Error: "file upload failed"})
		return
	}

	metricUploads.Inc()
	log.Printf("Stored upload %q (%d bytes) from %s", header.Filename, size, r.RemoteAddr)

	writeJSON(w, http.StatusOK, uploadResponse{
		URL:      "/uploads/" + name,
		FileName: header.Filename,
		FileSize: size,
	})
}

// UploadsHandler serves previously uploaded files from the upload directory.
// The directory is resolved per request so configuration changes take effect
// without rebuilding the routes.
func UploadsHandler() http.Handler {
	return http.StripPrefix("/uploads/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.FileServer(http.Dir(currentConfig().UploadDir)).ServeHTTP(w, r)
	}))
}
