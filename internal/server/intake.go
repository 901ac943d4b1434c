package server

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	pollererrors "github.com/adcondev/receipt-daemon/internal/poller/errors"
	"github.com/adcondev/receipt-daemon/internal/preview"
	"github.com/adcondev/receipt-daemon/internal/queue"
	"github.com/adcondev/receipt-daemon/internal/receipt"
	"github.com/adcondev/receipt-daemon/internal/render"
)

func friendly(err error) string {
	return pollererrors.ExtractUserFriendlyError(err)
}

// newJob validates a ticket message and builds the queued job. The poller
// parses the document again; rejecting here gives the client an immediate
// answer instead of a FAILED result.
func newJob(id string, msg *Message) (queue.Job, error) {
	kind, err := receipt.ParseKind(msg.Kind)
	if err != nil {
		return queue.Job{}, err
	}
	if msg.Paper != "" {
		if _, err := render.ProfileByName(msg.Paper); err != nil {
			return queue.Job{}, err
		}
	}
	if _, err := receipt.Parse(msg.Datos); err != nil {
		return queue.Job{}, err
	}
	return queue.Job{
		ID:       id,
		Kind:     kind,
		Printer:  msg.Printer,
		Paper:    msg.Paper,
		Document: msg.Datos,
	}, nil
}

// handlePreview renders a template without printing it and returns the
// text lines and a PNG picture of the receipt.
func (s *Server) handlePreview(ctx context.Context, conn *websocket.Conn, remote string, msg *Message) {
	if s.deps.Renderer == nil {
		s.sendError(ctx, conn, msg.ID, "Preview unavailable")
		return
	}
	if !s.admit(ctx, conn, remote, msg) {
		return
	}

	payload, err := s.renderMessage(msg)
	if err != nil {
		s.logger.Debug("preview rejected", zap.String("id", msg.ID), zap.Error(err))
		s.sendError(ctx, conn, msg.ID, friendly(err))
		return
	}

	resp := Response{
		Tipo:     "preview",
		ID:       msg.ID,
		Status:   "ok",
		Text:     payload.Text(),
		Warnings: payload.Warnings(),
	}
	var buf bytes.Buffer
	if err := preview.PNG(&buf, payload); err != nil {
		resp.Warnings = append(resp.Warnings, "image preview unavailable: "+err.Error())
	} else {
		resp.Image = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	_ = wsjson.Write(ctx, conn, resp)
}

func (s *Server) renderMessage(msg *Message) (*render.Payload, error) {
	kind, err := receipt.ParseKind(msg.Kind)
	if err != nil {
		return nil, err
	}
	prof := s.cfg.Profile
	if msg.Paper != "" {
		if prof, err = render.ProfileByName(msg.Paper); err != nil {
			return nil, err
		}
		prof.NativeBitmap = s.cfg.Profile.NativeBitmap
	}
	tmpl, err := receipt.Parse(msg.Datos)
	if err != nil {
		return nil, err
	}
	return s.deps.Renderer.Render(tmpl, render.Options{Profile: prof, Kind: kind})
}
