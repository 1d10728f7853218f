package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var (
	validate  = newValidator()
	sanitizer = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// maxSanitizePasses bounds how many layers of entity encoding are peeled.
const maxSanitizePasses = 4

// SanitizeText strips markup from citizen- or staff-entered text and stores
// it unescaped. Entity-encoded markup is decoded and sanitised again until
// the text is stable; text still changing after maxSanitizePasses is
// returned in its escaped form.
func SanitizeText(s string) string {
	for range maxSanitizePasses {
		clean := html.UnescapeString(sanitizer.Sanitize(s))
		if clean == s {
			return strings.TrimSpace(s)
		}
		s = clean
	}
	return strings.TrimSpace(sanitizer.Sanitize(s))
}

func sanitizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	clean := SanitizeText(*s)
	if clean == "" {
		return nil
	}
	return &clean
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// NormalizeDraft strips markup and surrounding whitespace from a draft.
func NormalizeDraft(d Draft) Draft {
	d.Title = SanitizeText(d.Title)
	d.Description = SanitizeText(d.Description)
	d.Category = Category(strings.TrimSpace(string(d.Category)))
	d.Priority = Priority(strings.TrimSpace(string(d.Priority)))
	d.LocationAddress = sanitizeOptional(d.LocationAddress)
	d.OriginalImageRef = trimOptional(d.OriginalImageRef)
	d.AudioRef = trimOptional(d.AudioRef)
	d.AIAnalysis = trimJSON(d.AIAnalysis)
	return d
}

func trimJSON(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.RawMessage(trimmed)
}

// ValidateDraft validates fields required to create a report.
func ValidateDraft(d Draft) error {
	var fields []string
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating draft: %w", err)
		}
		for _, fe := range verrs {
			fields = appendField(fields, fe.Field())
		}
	}
	if d.Category != "" && !d.Category.Valid() {
		fields = appendField(fields, "category")
	}
	if d.Priority != "" && !d.Priority.Valid() {
		fields = appendField(fields, "priority")
	}
	if len(d.AIAnalysis) > 0 && !json.Valid(d.AIAnalysis) {
		fields = appendField(fields, "ai_analysis_data")
	}
	if (d.LocationLat == nil) != (d.LocationLng == nil) {
		fields = appendField(fields, "location_lat")
		fields = appendField(fields, "location_lng")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func appendField(fields []string, name string) []string {
	for _, f := range fields {
		if f == name {
			return fields
		}
	}
	return append(fields, name)
}

// ValidateNewRow checks an insert row received from a client. Besides the
// draft rules it requires a reporter, pending status and a set priority.
func ValidateNewRow(row NewRow) error {
	var fields []string
	err := ValidateDraft(Draft{
		Title:            row.Title,
		Description:      row.Description,
		Category:         row.Category,
		Priority:         row.Priority,
		LocationAddress:  row.LocationAddress,
		LocationLat:      row.LocationLat,
		LocationLng:      row.LocationLng,
		OriginalImageRef: row.OriginalImageRef,
		AudioRef:         row.AudioRef,
		AIAnalysis:       row.AIAnalysis,
	})
	var verr *ValidationError
	if errors.As(err, &verr) {
		fields = verr.Fields
	} else if err != nil {
		return err
	}
	if row.Priority == "" {
		fields = appendField(fields, "priority")
	}
	if row.Status != StatusPending {
		fields = appendField(fields, "status")
	}
	if strings.TrimSpace(row.ReporterID) == "" {
		fields = appendField(fields, "user_id")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
