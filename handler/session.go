package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/chaos-io/bgstudio/blob"
	"github.com/chaos-io/bgstudio/compose"
	"github.com/chaos-io/bgstudio/config"
	"github.com/chaos-io/bgstudio/model"
	"github.com/chaos-io/bgstudio/server"
	"github.com/chaos-io/bgstudio/session"
	"github.com/chaos-io/bgstudio/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	cfg      *config.Config
	sessions *server.Manager
	blobs    *blob.Store
}

func NewSessionHandler(cfg *config.Config, sessions *server.Manager, blobs *blob.Store) *SessionHandler {
	return &SessionHandler{
		cfg:      cfg,
		sessions: sessions,
		blobs:    blobs,
	}
}

// Create 新建会话
func (h *SessionHandler) Create(c *gin.Context) {
	s := h.sessions.Create()
	h.respond(c, http.StatusCreated, s)
}

// Get 查询会话状态
func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	h.respond(c, http.StatusOK, s)
}

// Delete 关闭会话
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectFile 上传原图
func (h *SessionHandler) SelectFile(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		util.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "please upload an image file",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("file exceeds the size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型，codec 会在编码时再次校验内容
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "unsupported file type, only PNG/JPEG/WEBP are accepted",
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, err)
		return
	}

	mt, _, _ := mime.ParseMediaType(contentType)
	if err := s.SelectFile(file.Filename, mt, data); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, s)
}

// StartRemoval 发起去背景，立即返回，进度通过 Get/Events 获取
func (h *SessionHandler) StartRemoval(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	attempt, err := s.StartRemoval()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, model.RemovalResponse{Success: true, Attempt: attempt})
}

// ChangeColor 修改背景色
func (h *SessionHandler) ChangeColor(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var req model.ColorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Success: false, Message: "invalid request", Error: err.Error()})
		return
	}
	col, err := compose.ParseColor(req.Color)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Success: false, Message: "invalid color", Error: err.Error()})
		return
	}

	if err := s.ChangeColor(col); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, s)
}

// Reset 回到初始状态
func (h *SessionHandler) Reset(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := s.Reset(); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, s)
}

// Download 下载合成结果
func (h *SessionHandler) Download(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	name, mediaType, data, err := s.Download()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, mediaType, data)
}

// Events 以 SSE 推送会话快照，直到客户端断开或会话关闭
func (h *SessionHandler) Events(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	ch, cancel, err := s.Subscribe()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Blob 返回展示用图片
func (h *SessionHandler) Blob(c *gin.Context) {
	b, err := h.blobs.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=3600, immutable")
	c.Data(http.StatusOK, b.MediaType, b.Data)
}

func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err == nil {
		err = s.Touch()
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) respond(c *gin.Context, status int, s *session.Session) {
	snap, err := s.Snapshot()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, model.SessionResponse{Success: true, Data: &snap})
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, server.ErrSessionNotFound), errors.Is(err, session.ErrClosed), errors.Is(err, blob.ErrNotFound):
		status = http.StatusNotFound
	case session.IsClientError(err):
		status = http.StatusConflict
	}
	_ = c.Error(err)
	c.JSON(status, model.ErrorResponse{Success: false, Message: http.StatusText(status), Error: err.Error()})
}

func (h *SessionHandler) isAllowedType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if mt == allowed {
			return true
		}
	}
	return false
}
