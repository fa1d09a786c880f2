package webhookapi

import (
	"net/http"

	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/identity"
)

type getUserInfoRequest struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
}

// handleGetUserInfo looks a user up by email or phone. Kept outside the
// registration sequence entirely: it's a plain read against the identity
// authority, not a step with its own state.
func (a *API) handleGetUserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req getUserInfoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "get_user_info", err)
		return
	}
	if req.Identifier == "" {
		writeError(w, "get_user_info", gatewayerr.New(gatewayerr.CodeInvalidData))
		return
	}

	var (
		user *identity.User
		err  error
	)
	switch identity.IdentifierType(req.IdentifierType) {
	case identity.IdentifierEmail:
		user, err = a.identity.GetUserByEmail(ctx, req.Identifier)
	case identity.IdentifierPhone:
		user, err = a.identity.GetUserByPhone(ctx, req.Identifier)
	default:
		writeError(w, "get_user_info", gatewayerr.New(gatewayerr.CodeValidationError))
		return
	}
	if err != nil {
		writeError(w, "get_user_info", gatewayerr.Wrap(gatewayerr.CodeIdentityError, err))
		return
	}
	if user == nil {
		writeError(w, "get_user_info", gatewayerr.New(gatewayerr.CodeDataNotFound))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"phone":      user.Phone,
		"enabled":    user.Enabled,
		"attributes": user.Attributes,
	})
}
