package query

import (
	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/phase"
)

// CatalogHandler lists the static catalog. The result never changes while the
// process runs, so it is rendered once.
type CatalogHandler struct {
	phases []PhaseDTO
	badges []BadgeDTO
}

// NewCatalogHandler renders the catalog.
func NewCatalogHandler(phases *phase.Table, badges *badge.Catalog) *CatalogHandler {
	h := &CatalogHandler{}
	for _, p := range phases.Phases() {
		h.phases = append(h.phases, NewPhaseDTO(p))
	}
	for _, b := range badges.Badges() {
		h.badges = append(h.badges, NewBadgeDTO(b))
	}
	return h
}

// Phases returns every phase, lowest first.
func (h *CatalogHandler) Phases() []PhaseDTO {
	out := make([]PhaseDTO, len(h.phases))
	copy(out, h.phases)
	return out
}

// Badges returns every badge in declaration order.
func (h *CatalogHandler) Badges() []BadgeDTO {
	out := make([]BadgeDTO, len(h.badges))
	copy(out, h.badges)
	return out
}
