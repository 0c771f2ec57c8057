// Package validation holds the side-effect-free checks that gate the
// participation wizard and the form campaign.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultMaxScreenshotBytes is the smaller of the two ceilings used by
	// the campaigns; LargeMaxScreenshotBytes is the other.
	DefaultMaxScreenshotBytes int64 = 5 << 20
	LargeMaxScreenshotBytes   int64 = 10 << 20

	// DefaultMonthlyCap is the number of form entries allowed per key per month.
	DefaultMonthlyCap = 3
)

var (
	nonDigit  = regexp.MustCompile(`\D`)
	emailRe   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	upiRe     = regexp.MustCompile(`^[\w.-]+@[a-zA-Z]+$`)
	nameRe    = regexp.MustCompile(`^[a-zA-Z ]{2,50}$`)
	mobileRe  = regexp.MustCompile(`^[6-9]`)
	imageMIME = map[string]string{
		"image/jpeg": "jpg",
		"image/jpg":  "jpg",
		"image/png":  "png",
		"image/webp": "webp",
		"image/gif":  "gif",
	}
)

// Error describes one rejected field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fail(field, msg string) *Error {
	return &Error{Field: field, Message: msg}
}

// NormalizePhone strips every non-digit character.
func NormalizePhone(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

// IsPhone reports whether s holds exactly 10 digits once non-digits are
// stripped. With strictPrefix the first digit must be 6, 7, 8 or 9.
func IsPhone(s string, strictPrefix bool) bool {
	digits := NormalizePhone(s)
	if len(digits) != 10 {
		return false
	}
	return !strictPrefix || mobileRe.MatchString(digits)
}

// Phone validates and returns the normalized phone number.
func Phone(s string, strictPrefix bool) (string, error) {
	digits := NormalizePhone(s)
	if digits == "" {
		return "", fail("phone", "Mobile number is required")
	}
	if !IsPhone(digits, strictPrefix) {
		if len(digits) == 10 {
			return "", fail("phone", "Mobile number must start with 6, 7, 8 or 9")
		}
		return "", fail("phone", "Please enter a valid 10-digit mobile number")
	}
	return digits, nil
}

// Email validates and returns the trimmed, lower-cased address.
func Email(s string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(s))
	if e == "" {
		return "", fail("email", "Email is required")
	}
	if !emailRe.MatchString(e) {
		return "", fail("email", "Please enter a valid email address")
	}
	return e, nil
}

// UPI validates a payment address of the form local-part@handle.
func UPI(s string) (string, error) {
	u := strings.TrimSpace(s)
	if u == "" {
		return "", fail("upi_id", "UPI ID is required")
	}
	if !upiRe.MatchString(u) {
		return "", fail("upi_id", "Please enter a valid UPI ID (e.g. name@bank)")
	}
	return u, nil
}

// Name accepts 2-50 letters and spaces.
func Name(s string) (string, error) {
	n := strings.TrimSpace(s)
	if n == "" {
		return "", fail("name", "Name is required")
	}
	if !nameRe.MatchString(n) {
		return "", fail("name", "Name must be 2-50 letters and spaces only")
	}
	return n, nil
}

// Screenshot checks an upload's MIME type against the image allow-list and
// its size against maxBytes. It returns the file extension for the type.
func Screenshot(contentType string, size, maxBytes int64) (string, error) {
	if size <= 0 {
		return "", fail("screenshot", "Please select a screenshot to upload")
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	ext, ok := imageMIME[ct]
	if !ok {
		return "", fail("screenshot", "Please upload an image file (JPG, PNG, WEBP or GIF)")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxScreenshotBytes
	}
	if size > maxBytes {
		return "", fail("screenshot", fmt.Sprintf("File size must be less than %dMB", maxBytes>>20))
	}
	return ext, nil
}

// MonthWindow returns the calendar month containing t as [start, end).
func MonthWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

// MonthlyCapReached reports whether count prior entries already use up limit.
func MonthlyCapReached(count int64, limit int) bool {
	if limit <= 0 {
		limit = DefaultMonthlyCap
	}
	return count >= int64(limit)
}
