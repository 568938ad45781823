package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/command"
	"github.com/clamflow/clamflow-bff/internal/offline"
	"github.com/clamflow/clamflow-bff/internal/validation"
	"github.com/clamflow/clamflow-bff/model"
)

const maxFormBytes = 1 << 20

// formRoute describes one submittable production form.
type formRoute struct {
	formType model.FormType
	opType   model.OperationType
	endpoint string
	// decode parses and validates the body into the typed form.
	decode func(body []byte) (any, error)
	submit func(b Backend, ctx context.Context, form any) (json.RawMessage, error)
}

func decodeForm[T any](body []byte, validate func(T) error) (any, error) {
	var form T
	if err := json.Unmarshal(body, &form); err != nil {
		return nil, model.NewBadRequestError("invalid JSON body")
	}
	if err := validate(form); err != nil {
		return nil, err
	}
	return form, nil
}

var weightNoteForm = formRoute{
	formType: model.FormTypeWeightNote,
	opType:   model.OpWeightNote,
	endpoint: "/weight-notes/",
	decode: func(body []byte) (any, error) {
		return decodeForm(body, validation.WeightNote)
	},
	submit: func(b Backend, ctx context.Context, form any) (json.RawMessage, error) {
		return b.CreateWeightNote(ctx, form)
	},
}

var ppcForm = formRoute{
	formType: model.FormTypePPC,
	opType:   model.OpFormSubmission,
	endpoint: "/ppc-forms/",
	decode: func(body []byte) (any, error) {
		return decodeForm(body, validation.PPC)
	},
	submit: func(b Backend, ctx context.Context, form any) (json.RawMessage, error) {
		return b.CreatePPCForm(ctx, form)
	},
}

var fpForm = formRoute{
	formType: model.FormTypeFP,
	opType:   model.OpFormSubmission,
	endpoint: "/fp-forms/",
	decode: func(body []byte) (any, error) {
		return decodeForm(body, validation.FP)
	},
	submit: func(b Backend, ctx context.Context, form any) (json.RawMessage, error) {
		return b.CreateFPForm(ctx, form)
	},
}

// submitForm validates a form, deduplicates it by idempotency key, submits
// it to the backend, and queues it for offline replay when the backend is
// unreachable. Invalid forms never reach the backend.
func (h *handlers) submitForm(fr formRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		formType := string(fr.formType)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBytes))
		if err != nil {
			WriteError(w, model.NewBadRequestError("could not read body"))
			return
		}
		form, err := fr.decode(body)
		if err != nil {
			h.deps.Metrics.RecordFormSubmission(formType, "invalid")
			WriteError(w, err)
			return
		}

		store := h.deps.Idempotency
		idemKey := r.Header.Get(command.HeaderIdempotencyKey)
		var key, hash string
		if store != nil && idemKey != "" {
			key = command.FormatIdempotencyKey(rctx.UserID, formType, idemKey)
			hash = command.HashInput(body)
			cached, found, err := store.Check(ctx, key, hash)
			if err != nil {
				WriteError(w, err)
				return
			}
			if found {
				h.deps.Metrics.RecordFormSubmission(formType, "replayed")
				writeStored(w, *cached)
				return
			}
		}

		status := http.StatusCreated
		var resp model.Envelope
		data, err := fr.submit(h.deps.Backend, ctx, form)
		switch {
		case err == nil:
			h.deps.Metrics.RecordFormSubmission(formType, "submitted")
			resp = model.Envelope{Success: true, Data: data, Message: "Form submitted"}
		case h.deps.Syncer != nil && offline.Queueable(err):
			op, qerr := h.enqueueForm(ctx, rctx, fr, body)
			if qerr != nil {
				h.logger(r).Error("offline enqueue failed", zap.String("form_type", formType), zap.Error(qerr))
				WriteError(w, err)
				return
			}
			h.deps.Metrics.RecordFormSubmission(formType, "queued")
			status = http.StatusAccepted
			resp = model.Envelope{
				Success: true,
				Data:    map[string]any{"queued": true, "operation_id": op.ID},
				Message: "Backend unreachable; the form will be submitted when it is back",
			}
		default:
			h.deps.Metrics.RecordFormSubmission(formType, "failed")
			WriteError(w, err)
			return
		}

		encoded, err := json.Marshal(resp)
		if err != nil {
			WriteError(w, err)
			return
		}
		stored := command.StoredResponse{Status: status, Body: encoded}
		if key != "" {
			if err := store.Store(ctx, key, hash, stored, h.idempotencyTTL()); err != nil {
				h.logger(r).Warn("idempotency store failed", zap.Error(err))
			}
		}
		writeStored(w, stored)
	}
}

func (h *handlers) enqueueForm(ctx context.Context, rctx *model.RequestContext, fr formRoute, body []byte) (model.Operation, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return model.Operation{}, err
	}
	return h.deps.Syncer.Enqueue(ctx, rctx, fr.opType, http.MethodPost, fr.endpoint, data)
}

func (h *handlers) idempotencyTTL() time.Duration {
	if ttl := h.deps.Config.Idempotency.DefaultTTL; ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}

func writeStored(w http.ResponseWriter, s command.StoredResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}
