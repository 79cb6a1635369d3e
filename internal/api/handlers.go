package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"torrentsready/internal/model"
	"torrentsready/internal/trd"
)

type startRequest struct {
	MessengerID  int64  `json:"messenger_id" binding:"required"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
	IsBot        bool   `json:"is_bot"`
}

type submitRequest struct {
	Magnet string `json:"magnet"`
}

type torrentJSON struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

type entryJSON struct {
	Index    int    `json:"index"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Selected bool   `json:"selected"`
}

type pageJSON struct {
	Page          int         `json:"page"`
	Pages         int         `json:"pages"`
	Entries       []entryJSON `json:"entries"`
	SelectedCount int         `json:"selected_count"`
	SelectedSize  int64       `json:"selected_size"`
}

type summaryJSON struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Size         int64  `json:"size"`
	SizeHuman    string `json:"size_human"`
	IsProcessing bool   `json:"is_processing"`
	Selected     int    `json:"selected"`
	Ready        int    `json:"ready"`
}

func toTorrentJSON(t *model.Torrent) torrentJSON {
	return torrentJSON{ID: t.ID, Title: t.Title, Size: t.Size, SizeHuman: humanize.IBytes(uint64(t.Size))}
}

func toPageJSON(p *trd.SelectionPage) pageJSON {
	out := pageJSON{
		Page:          p.Page,
		Pages:         p.Pages,
		Entries:       make([]entryJSON, 0, len(p.Entries)),
		SelectedCount: p.SelectedCount,
		SelectedSize:  p.SelectedSize,
	}
	for _, e := range p.Entries {
		out.Entries = append(out.Entries, entryJSON{Index: e.Index, Path: e.Path, Size: e.Size, Selected: e.Selected})
	}
	return out
}

// messengerID parses :mid for every route under /users/:mid.
func (s *Server) messengerID(c *gin.Context) {
	mid, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_messenger_id"})
		return
	}
	c.Set("mid", mid)
	c.Next()
}

func intParam(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return v, true
}

func (s *Server) startInteraction(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	user, err := s.service.StartInteraction(c.Request.Context(), trd.Profile{
		MessengerID:  req.MessengerID,
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		LanguageCode: req.LanguageCode,
		IsBot:        req.IsBot,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"messenger_id": user.MessengerID,
		"is_blocked":   user.IsBlocked,
		"message":      trd.MsgHello,
	})
}

func (s *Server) submit(c *gin.Context) {
	payload, err := readPayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": trd.MsgInvalidLink})
		return
	}
	view, err := s.service.SubmitMagnetOrFile(c.Request.Context(), c.GetInt64("mid"), payload)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"torrent": toTorrentJSON(view.Torrent),
		"page":    toPageJSON(view.Page),
		"message": trd.MsgSelectFiles,
	})
}

// readPayload accepts a JSON magnet or a multipart "file" upload.
func readPayload(c *gin.Context) (trd.Payload, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return trd.Payload{}, err
		}
		if fh.Size > maxTorrentFileSize {
			return trd.Payload{}, fmt.Errorf("torrent file too large: %d bytes", fh.Size)
		}
		f, err := fh.Open()
		if err != nil {
			return trd.Payload{}, err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxTorrentFileSize))
		if err != nil {
			return trd.Payload{}, err
		}
		return trd.Payload{TorrentFile: data}, nil
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return trd.Payload{}, err
	}
	if req.Magnet == "" {
		return trd.Payload{}, errors.New("magnet required")
	}
	return trd.Payload{Magnet: req.Magnet}, nil
}

func (s *Server) page(c *gin.Context) {
	tid, ok := intParam(c, "tid")
	if !ok {
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
		return
	}
	p, err := s.service.Page(c.Request.Context(), c.GetInt64("mid"), tid, page)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPageJSON(p))
}

func (s *Server) toggle(c *gin.Context) {
	tid, ok := intParam(c, "tid")
	if !ok {
		return
	}
	index, ok := intParam(c, "index")
	if !ok {
		return
	}
	selected, err := s.service.ToggleSelection(c.Request.Context(), c.GetInt64("mid"), tid, int(index))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "selected": selected})
}

func (s *Server) selectAll(c *gin.Context) {
	tid, ok := intParam(c, "tid")
	if !ok {
		return
	}
	if err := s.service.SelectAll(c.Request.Context(), c.GetInt64("mid"), tid); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) unselectAll(c *gin.Context) {
	tid, ok := intParam(c, "tid")
	if !ok {
		return
	}
	if err := s.service.UnselectAll(c.Request.Context(), c.GetInt64("mid"), tid); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) finalize(c *gin.Context) {
	tid, ok := intParam(c, "tid")
	if !ok {
		return
	}
	res, err := s.service.FinalizeSelection(c.Request.Context(), c.GetInt64("mid"), tid)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"torrent":     toTorrentJSON(res.Torrent),
		"content_ids": res.ContentIDs,
		"total_size":  res.TotalSize,
		"message":     fmt.Sprintf("%d %s", len(res.ContentIDs), trd.MsgFilesSelected),
	})
}

func (s *Server) listTorrents(c *gin.Context) {
	torrents, err := s.service.ListActiveTorrents(c.Request.Context(), c.GetInt64("mid"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]summaryJSON, 0, len(torrents))
	for _, t := range torrents {
		out = append(out, summaryJSON{
			ID:           t.ID,
			Title:        t.Title,
			Size:         t.Size,
			SizeHuman:    humanize.IBytes(uint64(t.Size)),
			IsProcessing: t.IsProcessing,
			Selected:     t.Selected,
			Ready:        t.Ready,
		})
	}
	msg := trd.MsgYourActiveTorrents
	if len(out) == 0 {
		msg = trd.MsgNoActiveTorrents
	}
	c.JSON(http.StatusOK, gin.H{"torrents": out, "message": msg})
}

func (s *Server) removeTorrent(c *gin.Context) {
	tid, ok := intParam(c, "tid")
	if !ok {
		return
	}
	rel, err := s.service.RemoveTorrent(c.Request.Context(), c.GetInt64("mid"), tid)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"remaining": rel.Remaining,
		"released":  rel.Released,
		"message":   trd.MsgTorrentDeleted,
	})
}

func (s *Server) consent(c *gin.Context) {
	n, err := s.service.AcknowledgeConsent(c.Request.Context(), c.GetInt64("mid"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n, "message": trd.MsgConsentAcknowledged})
}

func (s *Server) events(c *gin.Context) {
	if err := s.hub.Serve(c.Writer, c.Request, c.GetInt64("mid")); err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
	}
}

// writeError maps core errors to a status and the user-facing text.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	var he *trd.HashExtractionError
	if pe, ok := trd.AsPolicyError(err); ok {
		status, code = http.StatusUnprocessableEntity, pe.Kind.String()
	} else {
		switch {
		case errors.As(err, &he):
			status, code = http.StatusBadRequest, "invalid_payload"
		case errors.Is(err, trd.ErrUserNotFound):
			status, code = http.StatusNotFound, "user_not_found"
		case errors.Is(err, trd.ErrTorrentNotFound):
			status, code = http.StatusNotFound, "torrent_not_found"
		case errors.Is(err, trd.ErrContentNotFound):
			status, code = http.StatusNotFound, "content_not_found"
		case errors.Is(err, trd.ErrSelectionNotOpen):
			status, code = http.StatusConflict, "selection_not_open"
		case errors.Is(err, trd.ErrMetadataUnavailable):
			status, code = http.StatusServiceUnavailable, "metadata_unavailable"
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": code, "message": trd.UserMessage(err)})
}
