// Package workflow holds the pure approval rules: who a request is routed to,
// how a decision moves it forward, and which states are legal.
package workflow

import (
	"fmt"
	"strings"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

const defaultEmailDomain = "kietgroup.com"

var (
	normalPath    = models.ApprovalPath{models.ApproverFloorIncharge, models.ApproverHostelIncharge, models.ApproverWarden}
	emergencyPath = models.ApprovalPath{models.ApproverHostelIncharge, models.ApproverWarden}
)

// PathFor returns the approval path for a category.
func PathFor(category models.PermissionCategory) (models.ApprovalPath, error) {
	switch category {
	case models.CategoryNormal:
		return append(models.ApprovalPath(nil), normalPath...), nil
	case models.CategoryEmergency:
		return append(models.ApprovalPath(nil), emergencyPath...), nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", category))
	}
}

// Cohort is the part of a student profile that drives routing.
type Cohort struct {
	Block    string
	Floor    string
	Semester int
}

// CohortMapper derives the academic year band and first-line approver of a cohort.
type CohortMapper interface {
	YearBand(semester int) string
	FirstLineApprover(semester int, block string) string
}

// AcademicMapper maps semesters to year bands and floor incharge mailboxes.
type AcademicMapper struct {
	domain string
}

// NewAcademicMapper builds a mapper addressing mailboxes under domain.
func NewAcademicMapper(domain string) *AcademicMapper {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = defaultEmailDomain
	}
	return &AcademicMapper{domain: domain}
}

// YearBand maps semesters 1-2, 3-4, 5-6 and 7+ to 1st..4th. Invalid semesters count as 1.
func (m *AcademicMapper) YearBand(semester int) string {
	switch yearIndex(semester) {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return "4th"
	}
}

// FirstLineApprover returns floorincharge<N>.<suffix>@<domain>.
func (m *AcademicMapper) FirstLineApprover(semester int, block string) string {
	return fmt.Sprintf("floorincharge%d.%s@%s", yearIndex(semester), BlockSuffix(block), m.domain)
}

// BlockSuffix is the lower-cased first letter of a D, E or W block, d otherwise.
func BlockSuffix(block string) string {
	trimmed := strings.TrimSpace(block)
	if trimmed == "" {
		return "d"
	}
	switch first := strings.ToLower(trimmed[:1]); first {
	case "d", "e", "w":
		return first
	default:
		return "d"
	}
}

func yearIndex(semester int) int {
	if semester < 1 {
		semester = 1
	}
	switch {
	case semester <= 2:
		return 1
	case semester <= 4:
		return 2
	case semester <= 6:
		return 3
	default:
		return 4
	}
}

// Route is the routing decision fixed on a request at creation.
type Route struct {
	Path     models.ApprovalPath
	RoutedTo models.RoutingInfo
}

// Resolver turns a cohort and category into a route.
type Resolver struct {
	mapper CohortMapper
}

// NewResolver builds a resolver; a nil mapper falls back to the default academic mapper.
func NewResolver(mapper CohortMapper) *Resolver {
	if mapper == nil {
		mapper = NewAcademicMapper("")
	}
	return &Resolver{mapper: mapper}
}

// Resolve computes the path and first-line approver. It is deterministic.
func (r *Resolver) Resolve(cohort Cohort, category models.PermissionCategory) (Route, error) {
	path, err := PathFor(category)
	if err != nil {
		return Route{}, err
	}
	return Route{
		Path: path,
		RoutedTo: models.RoutingInfo{
			Year:               r.mapper.YearBand(cohort.Semester),
			FloorInchargeEmail: r.mapper.FirstLineApprover(cohort.Semester, cohort.Block),
		},
	}, nil
}
