package ws

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/mediguide/server/rpc"
)

func (h *rpcMethodHandler) handleSettingsGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	result := rpc.SettingsGetResult{Settings: h.settingsStore.Get()}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send settings get response", "error", err)
	}
}

func (h *rpcMethodHandler) handleSettingsUpdate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SettingsUpdateParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	// Terms acceptance only flips through terms.accept.
	current := h.settingsStore.Get()
	params.Settings.TermsAccepted = current.TermsAccepted

	if err := h.settingsStore.Update(params.Settings); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid settings")
		return
	}

	h.log.Info("settings updated", "model", params.Settings.Model)

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send settings update response", "error", err)
	}
}

func (h *rpcMethodHandler) handleTermsAccept(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if err := h.settingsStore.AcceptTerms(); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to record acceptance")
		return
	}

	h.log.Info("terms accepted")

	result := rpc.TermsAcceptResult{Accepted: true}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send terms accept response", "error", err)
	}
}
