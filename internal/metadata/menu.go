// Package metadata describes the dashboard chrome served to the UI.
package metadata

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/model"
)

// ModuleEntry describes how a dashboard module appears in the menu.
type ModuleEntry struct {
	Module string
	Label  string
	Icon   string
	Route  string
	Order  int
	// BadgeStyle enables the pending-approval badge on this entry.
	BadgeStyle string
}

// DefaultModules is the menu layout for every dashboard module.
var DefaultModules = []ModuleEntry{
	{Module: capability.ModuleSuperAdmin, Label: "Super Admin", Icon: "shield", Route: "/super-admin", Order: 10},
	{Module: capability.ModuleAdminPanel, Label: "Administration", Icon: "settings", Route: "/admin", Order: 20},
	{Module: capability.ModuleProductionForms, Label: "Production Forms", Icon: "clipboard", Route: "/production", Order: 30},
	{Module: capability.ModuleQualityControl, Label: "Quality Control", Icon: "check-circle", Route: "/quality-control", Order: 40, BadgeStyle: "warning"},
	{Module: capability.ModuleHRManagement, Label: "HR Management", Icon: "users", Route: "/hr", Order: 50},
	{Module: capability.ModuleGateControl, Label: "Gate Control", Icon: "truck", Route: "/gate", Order: 60},
	{Module: capability.ModuleReports, Label: "Reports", Icon: "bar-chart", Route: "/reports", Order: 70},
}

// ModuleAccess decides which modules a role may open.
type ModuleAccess interface {
	CanAccessModule(role model.Role, module string) bool
}

// BadgeCounter counts the items waiting for the caller.
type BadgeCounter interface {
	PendingCount(ctx context.Context, rctx *model.RequestContext) (int, error)
}

// MenuProvider builds the navigation menu for a role.
type MenuProvider struct {
	access  ModuleAccess
	badges  BadgeCounter
	modules []ModuleEntry
	logger  *zap.Logger
}

// NewMenuProvider creates a MenuProvider over DefaultModules. badges may be
// nil, in which case no badge counts are shown.
func NewMenuProvider(access ModuleAccess, badges BadgeCounter, logger *zap.Logger) *MenuProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MenuProvider{
		access:  access,
		badges:  badges,
		modules: DefaultModules,
		logger:  logger,
	}
}

// Menu returns the modules the caller's role can access, in display order.
// Badge counts are best-effort: failures are logged and the badge omitted.
func (p *MenuProvider) Menu(ctx context.Context, rctx *model.RequestContext) model.NavigationTree {
	nodes := make([]model.NavigationNode, 0, len(p.modules))
	for _, m := range p.modules {
		if !p.access.CanAccessModule(rctx.Role, m.Module) {
			continue
		}
		node := model.NavigationNode{
			ID:    m.Module,
			Label: m.Label,
			Icon:  m.Icon,
			Route: m.Route,
			Order: m.Order,
		}
		if m.BadgeStyle != "" {
			node.Badge = p.resolveBadge(ctx, rctx, m)
		}
		nodes = append(nodes, node)
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Order < nodes[j].Order
	})
	return model.NavigationTree{Items: nodes}
}

func (p *MenuProvider) resolveBadge(ctx context.Context, rctx *model.RequestContext, m ModuleEntry) *model.BadgeDescriptor {
	if p.badges == nil {
		return nil
	}
	count, err := p.badges.PendingCount(ctx, rctx)
	if err != nil {
		p.logger.Debug("menu: badge resolution failed",
			zap.String("module", m.Module),
			zap.Error(err),
		)
		return nil
	}
	if count <= 0 {
		return nil
	}
	return &model.BadgeDescriptor{Count: count, Style: m.BadgeStyle}
}
