package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaxUploadBytes is the largest accepted upload.
const MaxUploadBytes = 100 * 1024 * 1024

var (
	ErrUnsupportedFileType = errors.New("unsupported audio file type")
	ErrFileTooLarge        = errors.New("audio file exceeds upload limit")
)

// Upload describes a pre-recorded file chosen by the user.
type Upload struct {
	Name string `validate:"required,audioext"`
	Size int64  `validate:"gte=0,maxupload"`
}

var uploadMIMETypes = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func uploadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("audioext", func(fl validator.FieldLevel) bool {
			_, ok := uploadMIMETypes[strings.ToLower(filepath.Ext(fl.Field().String()))]
			return ok
		})
		_ = validate.RegisterValidation("maxupload", func(fl validator.FieldLevel) bool {
			return fl.Field().Int() <= MaxUploadBytes
		})
	})
	return validate
}

// ValidateUpload checks the extension allow-list and size limit.
func ValidateUpload(u Upload) error {
	err := uploadValidator().Struct(u)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "Name":
			return fmt.Errorf("%w: %s", ErrUnsupportedFileType, u.Name)
		case "Size":
			return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, u.Size)
		}
	}
	return err
}

// MIMETypeFor derives the upload MIME type from the file name.
func MIMETypeFor(name string) string {
	if mime, ok := uploadMIMETypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mime
	}
	return "application/octet-stream"
}
