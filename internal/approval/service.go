package approval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

// Backend is the slice of the backend client the queue depends on.
type Backend interface {
	PendingQCForms(ctx context.Context) ([]map[string]any, error)
	ApproveQCForm(ctx context.Context, id string) error
	RejectQCForm(ctx context.Context, id, reason string) error
	ProductionLeadApprovePPC(ctx context.Context, id string) error
	QCLeadApproveFP(ctx context.Context, id string) error
}

// Approver decides whether a role may sign off a form type.
type Approver interface {
	CanApproveForm(role model.Role, formType model.FormType) bool
}

// Service reads the pending queue and applies approval decisions.
type Service struct {
	backend  Backend
	approver Approver
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewService creates an approval service.
func NewService(backend Backend, approver Approver, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:  backend,
		approver: approver,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Items fetches every pending form, enriched with age and priority and
// sorted oldest first. No role filtering is applied.
func (s *Service) Items(ctx context.Context) (items []model.PendingApprovalItem, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.items")
	defer func() { observability.EndSpanWithError(span, err) }()

	records, err := s.backend.PendingQCForms(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	items = make([]model.PendingApprovalItem, 0, len(records))
	for _, rec := range records {
		items = append(items, ItemFromRecord(rec, now))
	}
	SortOldestFirst(items)
	span.SetAttributes(observability.AttrQueueSize.Int(len(items)))
	return items, nil
}

// Queue returns the caller's view of the approval queue.
func (s *Service) Queue(ctx context.Context, rctx *model.RequestContext, f model.QueueFilter) ([]model.PendingApprovalItem, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(items, roleName(rctx), f), nil
}

// PendingCount returns how many queued forms the caller can see. It backs the
// quality control menu badge.
func (s *Service) PendingCount(ctx context.Context, rctx *model.RequestContext) (int, error) {
	if model.RequestContextFrom(ctx) == nil {
		ctx = model.WithRequestContext(ctx, rctx)
	}
	items, err := s.Queue(ctx, rctx, model.QueueFilter{})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Approve signs off the pending form with the given id at its current stage.
func (s *Service) Approve(ctx context.Context, rctx *model.RequestContext, id string) (item model.PendingApprovalItem, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.approve",
		observability.AttrRole.String(rctx.Role.Slug()))
	defer func() { observability.EndSpanWithError(span, err) }()

	item, err = s.authorize(ctx, rctx, id)
	if err != nil {
		s.metrics.RecordApprovalAction("approve", string(item.FormType), resultLabel(err))
		return item, err
	}
	span.SetAttributes(observability.AttrFormType.String(string(item.FormType)))

	switch item.Status {
	case model.StagePendingProductionLead:
		err = s.backend.ProductionLeadApprovePPC(ctx, item.ID)
	case model.StagePendingQCLead:
		err = s.backend.QCLeadApproveFP(ctx, item.ID)
	default:
		err = s.backend.ApproveQCForm(ctx, item.ID)
	}
	s.metrics.RecordApprovalAction("approve", string(item.FormType), resultLabel(err))
	if err != nil {
		return item, err
	}

	observability.RequestLogger(ctx, s.logger).Info("form approved",
		zap.String("form_id", item.ID),
		zap.String("form_type", string(item.FormType)),
		zap.String("stage", item.Status),
	)
	return item, nil
}

// Reject sends the pending form back with a reason.
func (s *Service) Reject(ctx context.Context, rctx *model.RequestContext, id, reason string) (err error) {
	ctx, span := observability.StartSpan(ctx, "approval.reject",
		observability.AttrRole.String(rctx.Role.Slug()))
	defer func() { observability.EndSpanWithError(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		err = model.NewFieldValidationError("reason", model.FieldRequired, "A rejection reason is required")
		s.metrics.RecordApprovalAction("reject", "", resultLabel(err))
		return err
	}

	item, err := s.authorize(ctx, rctx, id)
	if err == nil {
		err = s.backend.RejectQCForm(ctx, item.ID, reason)
	}
	s.metrics.RecordApprovalAction("reject", string(item.FormType), resultLabel(err))
	if err != nil {
		return err
	}

	observability.RequestLogger(ctx, s.logger).Info("form rejected",
		zap.String("form_id", item.ID),
		zap.String("form_type", string(item.FormType)),
	)
	return nil
}

// authorize finds the pending item and checks the caller may act on it at
// its current stage.
func (s *Service) authorize(ctx context.Context, rctx *model.RequestContext, id string) (model.PendingApprovalItem, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return model.PendingApprovalItem{}, err
	}
	for _, it := range items {
		if it.ID != id {
			continue
		}
		if !s.approver.CanApproveForm(rctx.Role, ApprovalFormType(it)) {
			return it, model.NewForbiddenError("You do not have permission to approve this form")
		}
		return it, nil
	}
	return model.PendingApprovalItem{}, model.NewNotFoundError("Pending form not found: " + id)
}

func roleName(rctx *model.RequestContext) string {
	if rctx == nil {
		return ""
	}
	if rctx.RoleName != "" {
		return rctx.RoleName
	}
	return string(rctx.Role)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case model.HasCode(err, model.ErrForbidden):
		return "forbidden"
	case model.HasCode(err, model.ErrNotFound):
		return "not_found"
	case model.HasCode(err, model.ErrValidationError):
		return "invalid"
	default:
		return "error"
	}
}
