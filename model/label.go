package model

import "time"

// QRLabelRequest asks for a traceability label for one box.
type QRLabelRequest struct {
	LotID       string    `json:"lot_id"`
	BoxNumber   string    `json:"box_number"`
	ProductType string    `json:"product_type"`
	Grade       string    `json:"grade"`
	Weight      float64   `json:"weight"`
	PackDate    time.Time `json:"pack_date"`
}

// QRLabelData is a generated box label.
type QRLabelData struct {
	ID               string    `json:"id"`
	LotID            string    `json:"lot_id"`
	BoxNumber        string    `json:"box_number"`
	ProductType      string    `json:"product_type"`
	Grade            string    `json:"grade"`
	Weight           float64   `json:"weight"`
	TraceabilityCode string    `json:"traceability_code"`
	QRCodeData       string    `json:"qr_code_data"`
	PackDate         time.Time `json:"pack_date"`
	ExpiryDate       time.Time `json:"expiry_date"`
	GeneratedAt      time.Time `json:"generated_at"`
	Fallback         bool      `json:"fallback"`
}

// RFIDTagData links a physical RFID tag to a box record.
type RFIDTagData struct {
	TagID       string    `json:"tag_id"`
	BoxNumber   string    `json:"box_number"`
	LotID       string    `json:"lot_id"`
	ProductType string    `json:"product_type"`
	Grade       string    `json:"grade"`
	Weight      float64   `json:"weight"`
	LinkedAt    time.Time `json:"linked_at"`
	LinkedBy    string    `json:"linked_by"`
}
