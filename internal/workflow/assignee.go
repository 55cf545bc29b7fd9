package workflow

import (
	"context"

	"github.com/greenfin/greenflow/internal/bpmn"
	"github.com/greenfin/greenflow/internal/repository"
	"github.com/greenfin/greenflow/pkg/models"
)

// Canonical task keys of the approval chain.
const (
	NodeManagerIdentification = "manager_identification"
	NodeBranchReview          = "branch_review"
	NodeFirstApproval         = "first_approval"
	NodeFinalReview           = "final_review"
)

// Review role names looked up in the identity directory.
const (
	RoleGreenFinanceManager  = "Green Finance Manager"
	RoleGreenFinanceReviewer = "Green Finance Reviewer"
)

// resolveAssignee maps a graph node plus a loan to a responsible user.
// The originator node always resolves to the loan's initiator. Role-bound
// nodes resolve scope from node metadata when present, otherwise from a
// fixed per-key fallback rule. Multiple eligible holders are tie-broken by
// lowest user id (store ordering). The bool result reports that the node is
// skip-eligible and no holder exists.
func resolveAssignee(ctx context.Context, store repository.Store, node *bpmn.Node, loan *models.Loan) (int64, bool, error) {
	if node.Key == NodeManagerIdentification {
		return loan.InitiatorID, false, nil
	}

	if node.Meta != nil && len(node.Meta.OrgLevels) > 0 && len(node.Meta.CandidateRoles) > 0 {
		if id, ok, err := resolveFromMeta(ctx, store, node, loan); err != nil {
			return 0, false, err
		} else if ok {
			return id, false, nil
		}
	}

	id, ok, err := resolveFromFallback(ctx, store, node.Key, loan)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return id, false, nil
	}
	if node.Meta != nil && node.Meta.SkipIfEmpty {
		return 0, true, nil
	}
	return 0, false, resolutionErr("no eligible assignee for node %q", node.Key)
}

// resolveFromMeta scopes the search to the loan org's parent, filtered by
// the node's declared org levels, and picks the first active holder of the
// first resolvable candidate role.
func resolveFromMeta(ctx context.Context, store repository.Store, node *bpmn.Node, loan *models.Loan) (int64, bool, error) {
	org, err := store.GetOrganization(ctx, loan.OrgID)
	if err != nil {
		return 0, false, err
	}
	if org == nil || org.ParentID == nil {
		return 0, false, nil
	}
	orgs, err := store.FindOrganizationsByLevelAndParent(ctx, node.Meta.OrgLevels, *org.ParentID)
	if err != nil {
		return 0, false, err
	}
	if len(orgs) == 0 {
		return 0, false, nil
	}
	orgIDs := make([]int64, 0, len(orgs))
	for _, o := range orgs {
		orgIDs = append(orgIDs, o.ID)
	}
	for _, roleName := range node.Meta.CandidateRoles {
		role, err := store.GetRoleByName(ctx, roleName)
		if err != nil {
			return 0, false, err
		}
		if role == nil {
			continue
		}
		users, err := store.FindActiveUsersByRoleAndOrgs(ctx, role.ID, orgIDs)
		if err != nil {
			return 0, false, err
		}
		if len(users) > 0 {
			return users[0].ID, true, nil
		}
	}
	return 0, false, nil
}

func resolveFromFallback(ctx context.Context, store repository.Store, nodeKey string, loan *models.Loan) (int64, bool, error) {
	switch nodeKey {
	case NodeBranchReview:
		return resolveBranchReview(ctx, store, loan)
	case NodeFirstApproval:
		return resolveFirstApproval(ctx, store, loan)
	case NodeFinalReview:
		return resolveFinalReview(ctx, store)
	}
	return 0, false, nil
}

// resolveBranchReview looks for a green finance manager at the reviewing
// branch: a level-3 org reviews at its level-2 parent, a level-2 org at
// itself. When no active holder is found the search falls back to the
// parent org, walking up the tree.
func resolveBranchReview(ctx context.Context, store repository.Store, loan *models.Loan) (int64, bool, error) {
	role, err := store.GetRoleByName(ctx, RoleGreenFinanceManager)
	if err != nil {
		return 0, false, err
	}
	if role == nil {
		return 0, false, nil
	}
	org, err := store.GetOrganization(ctx, loan.OrgID)
	if err != nil {
		return 0, false, err
	}
	for org != nil {
		scope := org
		if org.Level == 3 && org.ParentID != nil {
			parent, err := store.GetOrganization(ctx, *org.ParentID)
			if err != nil {
				return 0, false, err
			}
			if parent != nil && parent.Level == 2 {
				scope = parent
			}
		}
		users, err := store.FindActiveUsersByRoleAndOrgs(ctx, role.ID, []int64{scope.ID})
		if err != nil {
			return 0, false, err
		}
		if len(users) > 0 {
			return users[0].ID, true, nil
		}
		if scope.ParentID == nil {
			return 0, false, nil
		}
		org, err = store.GetOrganization(ctx, *scope.ParentID)
		if err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// resolveFirstApproval looks for a green finance manager at the loan org's
// first-tier (level 2) ancestor branch.
func resolveFirstApproval(ctx context.Context, store repository.Store, loan *models.Loan) (int64, bool, error) {
	role, err := store.GetRoleByName(ctx, RoleGreenFinanceManager)
	if err != nil {
		return 0, false, err
	}
	if role == nil {
		return 0, false, nil
	}
	org, err := store.GetOrganization(ctx, loan.OrgID)
	if err != nil {
		return 0, false, err
	}
	for org != nil && org.Level > 2 {
		if org.ParentID == nil {
			return 0, false, nil
		}
		org, err = store.GetOrganization(ctx, *org.ParentID)
		if err != nil {
			return 0, false, err
		}
	}
	if org == nil || org.Level != 2 {
		return 0, false, nil
	}
	users, err := store.FindActiveUsersByRoleAndOrgs(ctx, role.ID, []int64{org.ID})
	if err != nil {
		return 0, false, err
	}
	if len(users) == 0 {
		return 0, false, nil
	}
	return users[0].ID, true, nil
}

// resolveFinalReview looks for any active green finance reviewer; the role
// is held at the head office.
func resolveFinalReview(ctx context.Context, store repository.Store) (int64, bool, error) {
	role, err := store.GetRoleByName(ctx, RoleGreenFinanceReviewer)
	if err != nil {
		return 0, false, err
	}
	if role == nil {
		return 0, false, nil
	}
	users, err := store.FindActiveUsersByRole(ctx, role.ID)
	if err != nil {
		return 0, false, err
	}
	if len(users) == 0 {
		return 0, false, nil
	}
	return users[0].ID, true, nil
}
