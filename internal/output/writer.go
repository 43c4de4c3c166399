// Package output writes extracted rows as a JSON array.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/fsutil"
)

// ErrNoRows is returned when there is nothing to write.
var ErrNoRows = errors.New("no rows to write")

const fileMode os.FileMode = 0o644

// Writer writes rows to a file, or to stdout when the path is "-" or "stdout".
type Writer struct {
	fs     afero.Fs
	path   string
	stdout io.Writer
	logger *zap.Logger
}

// New creates a writer for path. The path may start with ~.
func New(fs afero.Fs, path string, logger *zap.Logger) (*Writer, error) {
	w := &Writer{fs: fs, stdout: os.Stdout, logger: logger.Named("output")}
	if isStdout(path) {
		return w, nil
	}
	expanded, err := fsutil.Expand(path)
	if err != nil {
		return nil, err
	}
	w.path = expanded
	return w, nil
}

func isStdout(path string) bool { return path == "" || path == "-" || path == "stdout" }

// Path is the destination file, or "" for stdout.
func (w *Writer) Path() string { return w.path }

// rowCodec indents by two spaces and leaves non-ASCII and HTML characters as is.
var rowCodec = json.Config{IndentionStep: 2}.Froze()

// Encode renders rows as an indented JSON array with column order preserved.
func Encode(rows []schemas.Row) ([]byte, error) {
	stream := rowCodec.BorrowStream(nil)
	defer rowCodec.ReturnStream(stream)

	stream.WriteArrayStart()
	for i, r := range rows {
		if i > 0 {
			stream.WriteMore()
		}
		if r.Len() == 0 {
			stream.WriteEmptyObject()
			continue
		}
		stream.WriteObjectStart()
		for j, k := range r.Keys() {
			if j > 0 {
				stream.WriteMore()
			}
			v, _ := r.Get(k)
			stream.WriteObjectField(k)
			stream.WriteString(v)
		}
		stream.WriteObjectEnd()
	}
	stream.WriteArrayEnd()
	if stream.Error != nil {
		return nil, fmt.Errorf("failed to encode rows: %w", stream.Error)
	}
	out := make([]byte, 0, len(stream.Buffer())+1)
	out = append(out, stream.Buffer()...)
	return append(out, '\n'), nil
}

// Write encodes rows and writes them atomically.
func (w *Writer) Write(rows []schemas.Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}
	data, err := Encode(rows)
	if err != nil {
		return err
	}

	if w.path == "" {
		if _, err := w.stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write rows to stdout: %w", err)
		}
		return nil
	}
	if err := fsutil.WriteAtomic(w.fs, w.path, data, fileMode); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	w.logger.Info("Rows written.", zap.String("path", w.path), zap.Int("rows", len(rows)))
	return nil
}

// Save writes rows to the destination. The run ID is not recorded in the file.
func (w *Writer) Save(ctx context.Context, runID string, rows []schemas.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.Write(rows)
}
