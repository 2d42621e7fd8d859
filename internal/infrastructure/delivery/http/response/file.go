package response

import (
	"fmt"
	"mime"
	"net/http"
	"os"
)

// Attachment serves the file at path as a download named name.
// Range and conditional requests are handled by http.ServeContent.
func Attachment(w http.ResponseWriter, r *http.Request, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), file)

	return nil
}
