// Package validation checks production form submissions before they are
// sent to the backend. Every check runs; all failures are reported together.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clamflow/clamflow-bff/model"
)

// Allowed product types and grades.
var (
	PPCProductTypes = []string{"whole_clam", "clam_meat", "clam_shell"}
	FPProductTypes  = []string{"whole_clam", "clam_meat", "processed_clam"}
	Grades          = []string{"A", "B", "C"}
)

type collector []model.FieldError

func (c *collector) add(field, code, msg string) {
	*c = append(*c, model.FieldError{Field: field, Code: code, Message: msg})
}

func (c collector) err() error {
	if len(c) == 0 {
		return nil
	}
	return model.NewValidationError(c)
}

func (c *collector) uuid(field, value, msg string) {
	if !isUUID(value) {
		c.add(field, model.FieldInvalidUUID, msg)
	}
}

func (c *collector) required(field, value, msg string) {
	if strings.TrimSpace(value) == "" {
		c.add(field, model.FieldRequired, msg)
	}
}

func (c *collector) positive(field string, value float64, msg string) {
	if !(value > 0) {
		c.add(field, model.FieldNotPositive, msg)
	}
}

func (c *collector) oneOf(field, value string, allowed []string, msg string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	c.add(field, model.FieldInvalidEnum, msg)
}

// isUUID accepts only the canonical hyphenated form.
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func indexed(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, field)
}

// WeightNote validates a raw material weight note.
func WeightNote(f model.WeightNoteForm) error {
	var c collector
	c.uuid("lot_id", f.LotID, "Invalid lot ID")
	c.uuid("supplier_id", f.SupplierID, "Invalid supplier ID")
	c.required("box_number", f.BoxNumber, "Box number is required")
	c.positive("weight", f.Weight, "Weight must be positive")
	c.uuid("qc_staff_id", f.QCStaffID, "QC Staff ID is required")
	if m := f.MoistureContent; m != nil && (*m < 0 || *m > 100) {
		c.add("moisture_content", model.FieldOutOfRange, "Moisture content must be between 0 and 100")
	}
	return c.err()
}

// PPC validates a pre-packed clam form.
func PPC(f model.PPCForm) error {
	var c collector
	c.uuid("lot_id", f.LotID, "Invalid lot ID")
	c.uuid("station_staff_id", f.StationStaffID, "Invalid station staff ID")
	if len(f.Boxes) == 0 {
		c.add("boxes", model.FieldTooFewItems, "At least one box is required")
	}
	for i, b := range f.Boxes {
		c.required(indexed("boxes", i, "box_number"), b.BoxNumber, "Box number required")
		c.oneOf(indexed("boxes", i, "product_type"), b.ProductType, PPCProductTypes, "Invalid product type")
		c.oneOf(indexed("boxes", i, "grade"), b.Grade, Grades, "Grade must be A, B, or C")
		c.positive(indexed("boxes", i, "weight"), b.Weight, "Weight must be positive")
	}
	c.positive("total_boxes", f.TotalBoxes, "Total boxes must be positive")
	c.positive("total_weight", f.TotalWeight, "Total weight must be positive")
	return c.err()
}

// FP validates a final product form.
func FP(f model.FPForm) error {
	var c collector
	c.uuid("lot_id", f.LotID, "Invalid lot ID")
	c.uuid("station_staff_id", f.StationStaffID, "Invalid station staff ID")
	if len(f.FinalBoxes) == 0 {
		c.add("final_boxes", model.FieldTooFewItems, "At least one final box is required")
	}
	for i, b := range f.FinalBoxes {
		c.required(indexed("final_boxes", i, "final_box_number"), b.FinalBoxNumber, "Final box number required")
		if len(b.OriginalBoxNumbers) == 0 {
			c.add(indexed("final_boxes", i, "original_box_numbers"), model.FieldTooFewItems,
				"At least one original box number required")
		}
		c.oneOf(indexed("final_boxes", i, "product_type"), b.ProductType, FPProductTypes, "Invalid product type")
		c.oneOf(indexed("final_boxes", i, "grade"), b.Grade, Grades, "Grade must be A, B, or C")
		c.positive(indexed("final_boxes", i, "weight"), b.Weight, "Weight must be positive")

		processed, perr := time.Parse(time.RFC3339, b.ProcessingDate)
		if perr != nil {
			c.add(indexed("final_boxes", i, "processing_date"), model.FieldInvalidDate, "Invalid processing date format")
		}
		expiry, eerr := time.Parse(time.RFC3339, b.ExpiryDate)
		if eerr != nil {
			c.add(indexed("final_boxes", i, "expiry_date"), model.FieldInvalidDate, "Invalid expiry date format")
		}
		if perr == nil && eerr == nil && !expiry.After(processed) {
			c.add(indexed("final_boxes", i, "expiry_date"), model.FieldInvalid, "Expiry date must be after processing date")
		}
	}
	c.positive("total_boxes", f.TotalBoxes, "Total boxes must be positive")
	c.positive("total_weight", f.TotalWeight, "Total weight must be positive")
	c.required("processing_method", f.ProcessingMethod, "Processing method is required")
	c.positive("duration_minutes", f.DurationMinutes, "Duration must be positive")
	return c.err()
}
