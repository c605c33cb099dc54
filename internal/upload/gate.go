package upload

import (
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dom/genstudio/internal/domain"
)

// MaxImageBytes is the largest accepted upload (10 MiB).
const MaxImageBytes int64 = 10 * 1024 * 1024

// Reason explains why an asset was rejected.
type Reason string

const (
	ReasonUnsupportedType Reason = "unsupported-type"
	ReasonTooLarge        Reason = "too-large"
	ReasonEmpty           Reason = "empty"
)

// Rejection is returned (wrapped in a validation error) when an asset does not
// satisfy the policy.
type Rejection struct {
	Reason   Reason
	MimeType string
	Size     int64
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonUnsupportedType:
		return fmt.Sprintf("unsupported image type %q", r.MimeType)
	case ReasonTooLarge:
		return fmt.Sprintf("image of %d bytes exceeds the limit", r.Size)
	default:
		return "image is empty"
	}
}

// Policy is the type/size allow-list shared by the server gate and the
// client's advisory checks.
type Policy struct {
	AllowedTypes []string
	MaxBytes     int64
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedTypes: []string{"image/jpeg", "image/png"},
		MaxBytes:     MaxImageBytes,
	}
}

// Check validates a declared content type and size.
func (p Policy) Check(contentType string, size int64) error {
	mimeType := normalizeMimeType(contentType)
	if !p.allows(mimeType) {
		return &Rejection{Reason: ReasonUnsupportedType, MimeType: mimeType, Size: size}
	}
	if size <= 0 {
		return &Rejection{Reason: ReasonEmpty, MimeType: mimeType, Size: size}
	}
	if size > p.MaxBytes {
		return &Rejection{Reason: ReasonTooLarge, MimeType: mimeType, Size: size}
	}
	return nil
}

func (p Policy) allows(mimeType string) bool {
	for _, allowed := range p.AllowedTypes {
		if mimeType == allowed {
			return true
		}
	}
	return false
}

// Header describes an incoming file part.
type Header struct {
	Filename    string
	ContentType string
	Size        int64
}

// Gate is the server-side validation boundary for uploads.
type Gate struct {
	policy Policy
	now    func() time.Time
}

func NewGate(policy Policy) *Gate {
	return &Gate{policy: policy, now: time.Now}
}

func (g *Gate) Policy() Policy {
	return g.policy
}

// Accept validates h and names the asset for storage. The content type comes
// from the part header; the filename extension is never consulted.
func (g *Gate) Accept(h Header) (domain.UploadedAsset, error) {
	if err := g.policy.Check(h.ContentType, h.Size); err != nil {
		return domain.UploadedAsset{}, RejectionError("upload.Accept", err)
	}

	mimeType := normalizeMimeType(h.ContentType)
	return domain.UploadedAsset{
		OriginalName: h.Filename,
		MimeType:     mimeType,
		SizeBytes:    h.Size,
		StoredName:   StoredName(g.now(), h.Filename, mimeType),
	}, nil
}

// RejectionError wraps a policy rejection into a validation error with a
// caller-facing message.
func RejectionError(op string, err error) error {
	msg := domain.MsgUnsupportedImageType
	if r, ok := err.(*Rejection); ok {
		switch r.Reason {
		case ReasonTooLarge:
			msg = domain.MsgImageTooLarge
		case ReasonEmpty:
			msg = domain.MsgImageRequired
		}
	}
	return domain.WrapError(domain.KindValidation, op, msg, err)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// StoredName derives a collision-resistant storage name from the upload time
// and the sanitized client filename.
func StoredName(at time.Time, originalName, mimeType string) string {
	name := strings.ReplaceAll(originalName, `\`, "/")
	name = path.Base(name)
	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "-")
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "upload"
	}
	if !hasExtensionFor(name, mimeType) {
		name += extensionFor(mimeType)
	}
	return fmt.Sprintf("%d-%s", at.UnixMilli(), name)
}

func normalizeMimeType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// hasExtensionFor reports whether name already ends in an extension that
// stores serve back as mimeType.
func hasExtensionFor(name, mimeType string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return mimeType == "image/jpeg"
	case ".png":
		return mimeType == "image/png"
	default:
		return extensionFor(mimeType) == ""
	}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
