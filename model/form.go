package model

// FormType identifies a production or QC form.
type FormType string

// Form types submitted through the plant workflow.
const (
	FormTypeWeightNote FormType = "weight_note"
	FormTypePPC        FormType = "ppc_form"
	FormTypeFP         FormType = "fp_form"
	FormTypeDepuration FormType = "depuration_form"

	// Approval-stage specific kinds, used only for approver checks.
	FormTypePPCProductionLead FormType = "ppc_form_production_lead"
	FormTypeFPQCLead          FormType = "fp_form_qc_lead"
)

// Approval stages reported by the backend in a form's status field.
const (
	StagePendingQC             = "pending_qc"
	StagePendingProductionLead = "pending_production_lead"
	StagePendingQCLead         = "pending_qc_lead"
	StageApproved              = "approved"
	StageRejected              = "rejected"
)

// WeightNoteForm is the raw material weight note submitted at the RM station.
type WeightNoteForm struct {
	LotID           string   `json:"lot_id"`
	SupplierID      string   `json:"supplier_id"`
	BoxNumber       string   `json:"box_number"`
	Weight          float64  `json:"weight"`
	QCStaffID       string   `json:"qc_staff_id"`
	Notes           string   `json:"notes,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MoistureContent *float64 `json:"moisture_content,omitempty"`
}

// PPCBox is one box recorded on a PPC form.
type PPCBox struct {
	BoxNumber   string   `json:"box_number"`
	ProductType string   `json:"product_type"`
	Grade       string   `json:"grade"`
	Weight      float64  `json:"weight"`
	Temperature *float64 `json:"temperature,omitempty"`
	BatchID     string   `json:"batch_id,omitempty"`
}

// PPCForm is the pre-packed clam form submitted at the PPC station.
type PPCForm struct {
	LotID             string   `json:"lot_id"`
	StationStaffID    string   `json:"station_staff_id"`
	Boxes             []PPCBox `json:"boxes"`
	TotalBoxes        float64  `json:"total_boxes"`
	TotalWeight       float64  `json:"total_weight"`
	QualityNotes      string   `json:"quality_notes,omitempty"`
	ProcessingMethod  string   `json:"processing_method,omitempty"`
	OperatorSignature string   `json:"operator_signature,omitempty"`
}

// FPBox is one final-product box recorded on an FP form.
type FPBox struct {
	FinalBoxNumber     string   `json:"final_box_number"`
	OriginalBoxNumbers []string `json:"original_box_numbers"`
	ProductType        string   `json:"product_type"`
	Grade              string   `json:"grade"`
	Weight             float64  `json:"weight"`
	ProcessingDate     string   `json:"processing_date"`
	ExpiryDate         string   `json:"expiry_date"`
}

// FPForm is the final product form submitted at the FP station.
type FPForm struct {
	LotID             string  `json:"lot_id"`
	StationStaffID    string  `json:"station_staff_id"`
	FinalBoxes        []FPBox `json:"final_boxes"`
	TotalBoxes        float64 `json:"total_boxes"`
	TotalWeight       float64 `json:"total_weight"`
	ProcessingMethod  string  `json:"processing_method"`
	Temperature       float64 `json:"temperature"`
	DurationMinutes   float64 `json:"duration_minutes"`
	OperatorSignature string  `json:"operator_signature,omitempty"`
}
