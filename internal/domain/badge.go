package domain

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Badge is the payload encoded in a student's QR code. Scanning it yields a capture with method qr.
type Badge struct {
	StudentID string `json:"sid" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Grade     string `json:"grade,omitempty"`
	Center    string `json:"center,omitempty"`
}

// Encode returns the QR text for the badge.
func (b Badge) Encode() string {
	raw, _ := json.Marshal(b)
	return string(raw)
}

// ParseBadge decodes scanned QR text.
func ParseBadge(text string) (Badge, error) {
	var b Badge
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &b); err != nil {
		return Badge{}, NewValidationError(errors.Wrap(err, "unreadable badge"),
			FieldError{Field: "badge", Error: "not a student badge"})
	}
	if err := Validate(b); err != nil {
		return Badge{}, err
	}
	return b, nil
}

// Record turns a scanned badge into an attendance record.
func (b Badge) Record() AttendanceRecord {
	return AttendanceRecord{
		StudentID: b.StudentID,
		Name:      b.Name,
		Grade:     b.Grade,
		Center:    b.Center,
		Method:    CaptureQR,
	}
}
