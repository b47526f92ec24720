// Package dataurl converts local image files into base64 data URLs of
// the form data:<mime>;base64,<payload>, suitable for embedding in a
// multimodal LLM request.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FallbackMIME is used when a file's extension does not map to a known
// image type.
const FallbackMIME = "image/png"

// Extension to MIME type. A fixed table rather than mime.TypeByExtension
// because the latter consults platform type registries whose contents
// vary between machines.
var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".avif": "image/avif",
	".heic": "image/heic",
}

// MIMEType returns the image MIME type inferred from path's extension.
// Unknown or missing extensions return FallbackMIME.
func MIMEType(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return FallbackMIME
}

// Encode builds a data URL from a MIME type and raw bytes.
func Encode(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ReadFile loads the image at path and returns its bytes and inferred
// MIME type. path must name an existing regular file; anything else
// fails with an error satisfying errors.Is(err, fs.ErrNotExist). The
// whole file is read into memory, there is no size cap.
func ReadFile(path string) ([]byte, string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("image not found: %s: %w", path, fs.ErrNotExist)
		}
		return nil, "", err
	}
	if !fi.Mode().IsRegular() {
		return nil, "", fmt.Errorf("image not found: %s is not a regular file: %w", path, fs.ErrNotExist)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	return data, MIMEType(path), nil
}

// FromFile converts the image file at path into a data URL. The result
// is deterministic for identical file bytes and extension.
func FromFile(path string) (string, error) {
	data, mime, err := ReadFile(path)
	if err != nil {
		return "", err
	}
	return Encode(mime, data), nil
}
