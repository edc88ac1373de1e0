package tools

import (
	"github.com/goatbytes/consoul/internal/models"
)

// ApprovalDecision is one of auto (run without prompting), prompt (ask the
// Approval Coordinator), or deny.
type ApprovalDecision string

const (
	DecisionAuto   ApprovalDecision = "auto"
	DecisionPrompt ApprovalDecision = "prompt"
	DecisionDeny   ApprovalDecision = "deny"
)

// PermissionPolicy is one of the four ordered approval policies a
// session can select, grounded on internal/tools/policy/approval.go's
// ApprovalPolicy/RiskApprovalPolicy per-risk-level table, generalized into
// an explicit STRICT/BALANCED/TRUSTING/WHITELIST_ONLY enum.
type PermissionPolicy string

const (
	PolicyStrict        PermissionPolicy = "strict"
	PolicyBalanced      PermissionPolicy = "balanced"
	PolicyTrusting      PermissionPolicy = "trusting"
	PolicyWhitelistOnly PermissionPolicy = "whitelist_only"
)

// policyTable holds, for each policy, the decision at each risk level
// absent a whitelist match.
var policyTable = map[PermissionPolicy]map[models.RiskLevel]ApprovalDecision{
	PolicyStrict: {
		models.RiskSafe:      DecisionPrompt,
		models.RiskCaution:   DecisionPrompt,
		models.RiskDangerous: DecisionDeny,
		models.RiskBlocked:   DecisionDeny,
	},
	PolicyBalanced: {
		models.RiskSafe:      DecisionAuto,
		models.RiskCaution:   DecisionPrompt,
		models.RiskDangerous: DecisionPrompt,
		models.RiskBlocked:   DecisionDeny,
	},
	PolicyTrusting: {
		models.RiskSafe:      DecisionAuto,
		models.RiskCaution:   DecisionAuto,
		models.RiskDangerous: DecisionPrompt,
		models.RiskBlocked:   DecisionDeny,
	},
	PolicyWhitelistOnly: {
		models.RiskSafe:      DecisionDeny,
		models.RiskCaution:   DecisionDeny,
		models.RiskDangerous: DecisionDeny,
		models.RiskBlocked:   DecisionDeny,
	},
}

// NeedsApprovalResult is the outcome of NeedsApproval.
type NeedsApprovalResult struct {
	Decision ApprovalDecision
	Reason   string
}

// NeedsApproval implements the mandatory evaluation order for whether a
// tool call proceeds without prompting, is prompted, or is denied:
//  1. deny if the tool is BLOCKED or filter-denied,
//  2. allow without prompt if the whitelist matches,
//  3. otherwise consult the policy by the tool's effective risk level,
//     where effective risk is the maximum of the registered risk and
//     (for shell-style tools) the Command Analyzer's verdict on the
//     concrete arguments.
func NeedsApproval(policy PermissionPolicy, filter models.ToolFilter, t models.Tool, effectiveRisk models.RiskLevel, whitelisted bool) NeedsApprovalResult {
	decision := Decide(filter, t)
	if !decision.Allowed {
		return NeedsApprovalResult{Decision: DecisionDeny, Reason: decision.Reason}
	}
	if effectiveRisk == models.RiskBlocked {
		return NeedsApprovalResult{Decision: DecisionDeny, Reason: "effective risk is BLOCKED"}
	}

	if whitelisted {
		if policy == PolicyWhitelistOnly {
			return NeedsApprovalResult{Decision: DecisionAuto, Reason: "whitelist match"}
		}
		// Under the other policies a whitelist match still bypasses
		// prompting, but BLOCKED can never be bypassed (checked above).
		return NeedsApprovalResult{Decision: DecisionAuto, Reason: "whitelist match"}
	}

	table, ok := policyTable[policy]
	if !ok {
		table = policyTable[PolicyBalanced]
	}
	d, ok := table[effectiveRisk]
	if !ok {
		d = DecisionPrompt
	}
	return NeedsApprovalResult{Decision: d, Reason: "policy " + string(policy) + " at risk " + effectiveRisk.String()}
}

// EffectiveRisk returns the maximum of a tool's registered risk and an
// optional command-analyzer verdict.
func EffectiveRisk(registered models.RiskLevel, analyzed *models.RiskLevel) models.RiskLevel {
	if analyzed == nil {
		return registered
	}
	if *analyzed > registered {
		return *analyzed
	}
	return registered
}
