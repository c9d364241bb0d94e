package email

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrAttachmentMissing is returned by ReadAttachment when the path does not exist.
var ErrAttachmentMissing = errors.New("attachment not found")

// ReadAttachment loads the file at path as an octet-stream attachment named
// after the final path component.
func ReadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Attachment{}, fmt.Errorf("%w: %s", ErrAttachmentMissing, path)
		}
		return Attachment{}, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}

	return Attachment{
		Filename:    filepath.Base(path),
		ContentType: OctetStream,
		Content:     data,
	}, nil
}
