// Package label produces QR traceability labels for packed boxes.
package label

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

// ShelfLifeMonths is the expiry offset from the pack date.
const ShelfLifeMonths = 12

// TraceabilityCode formats CF-<YYYYMMDD>-<lot tail>-<box tail>. The lot tail
// is the last 6 characters of the lot id; the box tail is the last 4
// alphanumerics of the box number. Both are uppercased.
func TraceabilityCode(lotID, boxNumber string, packDate time.Time) string {
	dateCode := packDate.UTC().Format("20060102")
	lotCode := strings.ToUpper(tail(lotID, 6))

	box := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, boxNumber)
	boxCode := strings.ToUpper(tail(box, 4))

	return fmt.Sprintf("CF-%s-%s-%s", dateCode, lotCode, boxCode)
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// qrPayload is the JSON encoded into a fallback label's QR code.
type qrPayload struct {
	Lot     string  `json:"lot"`
	Box     string  `json:"box"`
	Product string  `json:"product"`
	Grade   string  `json:"grade"`
	Weight  float64 `json:"weight"`
	Trace   string  `json:"trace"`
	Pack    string  `json:"pack"`
	Expiry  string  `json:"expiry"`
}

// Fallback builds a label locally. It is marked non-authoritative and
// carries the label fields in its QR data.
func Fallback(req model.QRLabelRequest, now time.Time) model.QRLabelData {
	pack := req.PackDate
	if pack.IsZero() {
		pack = now
	}
	pack = pack.UTC()
	expiry := pack.AddDate(0, ShelfLifeMonths, 0)
	trace := TraceabilityCode(req.LotID, req.BoxNumber, pack)

	qr, _ := json.Marshal(qrPayload{
		Lot:     req.LotID,
		Box:     req.BoxNumber,
		Product: req.ProductType,
		Grade:   req.Grade,
		Weight:  req.Weight,
		Trace:   trace,
		Pack:    pack.Format(time.RFC3339Nano),
		Expiry:  expiry.Format(time.RFC3339Nano),
	})

	return model.QRLabelData{
		ID:               fmt.Sprintf("LBL-%d", now.UnixMilli()),
		LotID:            req.LotID,
		BoxNumber:        req.BoxNumber,
		ProductType:      req.ProductType,
		Grade:            req.Grade,
		Weight:           req.Weight,
		TraceabilityCode: trace,
		QRCodeData:       string(qr),
		PackDate:         pack,
		ExpiryDate:       expiry,
		GeneratedAt:      now.UTC(),
		Fallback:         true,
	}
}

// Backend issues authoritative labels.
type Backend interface {
	GenerateQRLabel(ctx context.Context, req model.QRLabelRequest) (model.QRLabelData, error)
}

// Generator asks the backend for a label and falls back to a local one
// when the backend cannot provide it.
type Generator struct {
	backend Backend
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewGenerator creates a label generator.
func NewGenerator(backend Backend, logger *zap.Logger, metrics *observability.Metrics) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{backend: backend, logger: logger, metrics: metrics, now: time.Now}
}

// Generate returns the backend label, or a fallback label for any backend
// failure other than UNAUTHORIZED.
func (g *Generator) Generate(ctx context.Context, req model.QRLabelRequest) (model.QRLabelData, error) {
	if strings.TrimSpace(req.LotID) == "" || strings.TrimSpace(req.BoxNumber) == "" {
		return model.QRLabelData{}, model.NewValidationError([]model.FieldError{
			{Field: "lot_id", Code: model.FieldRequired, Message: "Lot ID and box number are required"},
		})
	}

	data, err := g.backend.GenerateQRLabel(ctx, req)
	if err == nil {
		if data.TraceabilityCode == "" {
			pack := data.PackDate
			if pack.IsZero() {
				pack = g.now()
			}
			data.TraceabilityCode = TraceabilityCode(req.LotID, req.BoxNumber, pack)
		}
		return data, nil
	}
	if model.HasCode(err, model.ErrUnauthorized) {
		return model.QRLabelData{}, err
	}

	observability.RequestLogger(ctx, g.logger).Warn("label generation failed, using local fallback",
		zap.String("lot_id", req.LotID),
		zap.String("box_number", req.BoxNumber),
		zap.Error(err),
	)
	g.metrics.RecordLabelFallback()
	return Fallback(req, g.now()), nil
}
