package diag

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

// ErrOutsideRoot is returned for a path that resolves outside the root.
var ErrOutsideRoot = errors.New("path escapes the file root")

// FileEntry is one item of a directory listing.
type FileEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsFolder bool      `json:"isFolder"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// DeleteResult is the reply of a delete request.
type DeleteResult struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Explorer serves one directory tree. Paths in requests are slash-separated
// and relative to the root; "" and "/" name the root itself.
type Explorer struct {
	root        string
	allowDelete bool
	logger      *slog.Logger
}

// NewExplorer creates an Explorer for root. root is made absolute.
func NewExplorer(root string, allowDelete bool, logger *slog.Logger) (*Explorer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve file root: %w", err)
	}
	// Symlinked roots are compared by their target
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("file root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("file root %s is not a directory", abs)
	}
	return &Explorer{root: abs, allowDelete: allowDelete, logger: logger}, nil
}

// Root returns the absolute root directory.
func (e *Explorer) Root() string {
	return e.root
}

// Resolve maps a request path to a file system path inside the root.
func (e *Explorer) Resolve(rel string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(rel, "\\", "/"))
	full := filepath.Join(e.root, filepath.FromSlash(clean))

	if err := e.within(full); err != nil {
		return "", err
	}
	// A symlink inside the root may point anywhere
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		if err := e.within(resolved); err != nil {
			return "", err
		}
	}
	return full, nil
}

func (e *Explorer) within(full string) error {
	r, err := filepath.Rel(e.root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return ErrOutsideRoot
	}
	return nil
}

// List returns the entries of one directory, folders first, then by name.
func (e *Explorer) List(rel string) ([]FileEntry, error) {
	dir, err := e.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	base := path.Clean("/" + rel)
	out := make([]FileEntry, 0, len(entries))
	for _, de := range entries {
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		out = append(out, FileEntry{
			Name:     de.Name(),
			Path:     path.Join(base, de.Name()),
			IsFolder: de.IsDir(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsFolder != out[j].IsFolder {
			return out[i].IsFolder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Delete removes a file or a directory tree. The root itself cannot be removed.
func (e *Explorer) Delete(rel string) error {
	full, err := e.Resolve(rel)
	if err != nil {
		return err
	}
	if full == e.root {
		return fmt.Errorf("%w: refusing to delete the root", ErrOutsideRoot)
	}
	if _, err := os.Lstat(full); err != nil {
		return err
	}
	return os.RemoveAll(full)
}

func (e *Explorer) listHandler() response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		entries, err := e.List(s.Query("path"))
		if err != nil {
			return response.WireResponse{}, fileError(err)
		}
		return response.JSON(http.StatusOK, entries), nil
	})
}

func (e *Explorer) downloadHandler() response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		rel := s.Query("path")
		if rel == "" {
			return response.WireResponse{}, response.BadRequest("missing path")
		}
		full, err := e.Resolve(rel)
		if err != nil {
			return response.WireResponse{}, fileError(err)
		}

		f, err := os.Open(full)
		if err != nil {
			return response.WireResponse{}, fileError(err)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return response.WireResponse{}, fileError(err)
		}
		if info.IsDir() {
			_ = f.Close()
			return response.WireResponse{}, response.BadRequest("%s is a directory", rel)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(full))
		if mimeType == "" {
			mimeType = response.MIMEBinary
		}
		w := response.Streamed(http.StatusOK, mimeType, f, info.Size())
		return w.WithHeader("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()})), nil
	})
}

func (e *Explorer) deleteHandler() response.Response {
	return response.Func(func(s *session.Params) response.WireResponse {
		if !e.allowDelete {
			return response.JSON(http.StatusForbidden, DeleteResult{ErrorMessage: "delete is disabled"})
		}
		rel := s.Query("path")
		if rel == "" {
			return response.JSON(http.StatusBadRequest, DeleteResult{ErrorMessage: "missing path"})
		}

		if err := e.Delete(rel); err != nil {
			se := fileError(err)
			e.logger.Warn("file delete failed", "path", rel, "error", err)
			return response.JSON(se.Status, DeleteResult{ErrorMessage: se.Message})
		}
		e.logger.Info("file deleted", "path", rel)
		return response.JSON(http.StatusOK, DeleteResult{Success: true})
	})
}

func fileError(err error) *response.StatusError {
	switch {
	case errors.Is(err, ErrOutsideRoot):
		return &response.StatusError{Status: http.StatusBadRequest, Message: "path outside file root", Err: err}
	case errors.Is(err, fs.ErrNotExist):
		return &response.StatusError{Status: http.StatusNotFound, Message: "no such file or directory", Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &response.StatusError{Status: http.StatusForbidden, Message: "permission denied", Err: err}
	default:
		return &response.StatusError{Status: http.StatusInternalServerError, Message: "file operation failed", Err: err}
	}
}
