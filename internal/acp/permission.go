package acp

import (
	"github.com/coder/acp-go-sdk"
)

// AutoApprovePermission selects the best option for permission auto-approval.
// It prefers "allow" options (AllowOnce or AllowAlways) if available,
// otherwise falls back to the first option.
// If no options are available, it returns a cancelled response.
func AutoApprovePermission(options []acp.PermissionOption) acp.RequestPermissionResponse {
	for _, opt := range options {
		if opt.Kind == acp.PermissionOptionKindAllowOnce || opt.Kind == acp.PermissionOptionKindAllowAlways {
			return SelectedPermissionResponse(opt.OptionId)
		}
	}

	if len(options) > 0 {
		return SelectedPermissionResponse(options[0].OptionId)
	}

	return CancelledPermissionResponse()
}

// DenyPermission selects the safest option when nobody answered a permission
// request. It prefers "reject" options (RejectOnce or RejectAlways),
// otherwise falls back to the first option.
// If no options are available, it returns a cancelled response.
func DenyPermission(options []acp.PermissionOption) acp.RequestPermissionResponse {
	for _, opt := range options {
		if opt.Kind == acp.PermissionOptionKindRejectOnce || opt.Kind == acp.PermissionOptionKindRejectAlways {
			return SelectedPermissionResponse(opt.OptionId)
		}
	}

	if len(options) > 0 {
		return SelectedPermissionResponse(options[0].OptionId)
	}

	return CancelledPermissionResponse()
}

// SelectedPermissionResponse returns a response selecting the given option.
func SelectedPermissionResponse(optionID acp.PermissionOptionId) acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: optionID},
		},
	}
}

// CancelledPermissionResponse returns a cancelled permission response.
func CancelledPermissionResponse() acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
	}
}
