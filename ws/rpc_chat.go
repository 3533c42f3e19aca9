package ws

import (
	"context"
	"errors"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/mediguide/server/chat"
	"github.com/mediguide/server/rpc"
	"github.com/mediguide/server/session"
)

func (h *rpcMethodHandler) handleChatSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatSubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	log := h.log.With("sessionId", params.SessionID)

	notifier := h.state.getNotifier()
	id, history, err := h.chatMessagesWatcher.Subscribe(notifier, h.state.connID, params.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "session not found")
			return
		}
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to subscribe")
		return
	}
	h.state.trackSubscription(id, h.chatMessagesWatcher)

	result := rpc.ChatSubscribeResult{
		ID:      id,
		History: history,
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		log.Error("failed to send chat subscribe response", "error", err)
		return
	}

	log.Info("subscribed to chat messages", "subscriptionId", id)
}

func (h *rpcMethodHandler) handleChatMessage(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatMessageParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	log := h.log.With("sessionId", params.SessionID)
	log.Info("received prompt", "length", len(params.Content), "hasImage", params.Image != "")

	result, err := h.orchestrator.Send(ctx, params.SessionID, chat.Input{
		Text:  params.Content,
		Image: params.Image,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "message is empty")
		case errors.Is(err, chat.ErrImageTooLarge):
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "image exceeds the size limit")
		case errors.Is(err, chat.ErrBusy):
			h.replyError(ctx, conn, req.ID, CodeBusy, "a reply is already in progress for this session")
		default:
			log.Error("failed to process message", "error", err)
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to process message")
		}
		return
	}

	resp := rpc.ChatMessageResult{
		SessionID:        result.SessionID,
		UserMessage:      result.UserMessage,
		AssistantMessage: result.AssistantMessage,
	}
	if err := conn.Reply(ctx, req.ID, resp); err != nil {
		log.Error("failed to send chat message response", "error", err)
	}
}

func (h *rpcMethodHandler) handleChatFeedback(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatFeedbackParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.orchestrator.Feedback(ctx, params.SessionID, params.MessageID, params.Feedback); err != nil {
		if errors.Is(err, chat.ErrInvalidFeedback) {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid feedback value")
			return
		}
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to record feedback")
		return
	}

	h.log.Debug("feedback recorded", "sessionId", params.SessionID, "messageId", params.MessageID, "feedback", params.Feedback)

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send feedback response", "error", err)
	}
}
