package handlers

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/media"
	"github.com/mediconnect/backend/services"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	pictureField  = "picture"
	mediaTimeout  = 30 * time.Second
	mediaBasePath = "/api/media/profile-pics/"
)

type ProfileHandler struct {
	users  *services.UserService
	media  media.Store
	logger *zap.Logger
}

func NewProfileHandler(users *services.UserService, store media.Store, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{users: users, media: store, logger: logger}
}

// Me returns the caller's profile, creating it on first access.
func (h *ProfileHandler) Me(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	p, err := h.users.Profile(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, p)
}

// UploadPicture resizes the uploaded image, stores it and records its URL
// on the caller's profile.
func (h *ProfileHandler) UploadPicture(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	file, err := c.FormFile(pictureField)
	if err != nil {
		return respondError(c, h.logger, services.Validation("NO_FILE", "No file uploaded"))
	}
	if err := media.CheckUpload(file.Filename, file.Size); err != nil {
		return respondError(c, h.logger, services.Validation("INVALID_FILE", err.Error()))
	}

	src, err := file.Open()
	if err != nil {
		return respondError(c, h.logger, services.Internal(err, "failed to open uploaded file"))
	}
	defer src.Close()

	data, err := media.ProcessAvatar(src)
	if err != nil {
		if errors.Is(err, media.ErrInvalidImage) {
			return respondError(c, h.logger, services.Validation("INVALID_IMAGE", "Invalid image format"))
		}
		return respondError(c, h.logger, services.Internal(err, "failed to process image"))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), mediaTimeout)
	defer cancel()

	name := media.ObjectName(id.ID)
	if err := h.media.Put(ctx, name, data); err != nil {
		return respondError(c, h.logger, services.Internal(err, "failed to store image"))
	}
	h.logger.Info("stored profile picture",
		zap.String("user_id", id.ID),
		zap.String("name", name),
		zap.Int("size", len(data)))

	p, err := h.users.SetPicture(ctx, id, mediaBasePath+name)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(Response{Success: true, Data: p, Message: "Profile picture updated successfully"})
}

// Picture streams a stored profile picture.
func (h *ProfileHandler) Picture(c *fiber.Ctx) error {
	name := c.Params("filename")
	if !media.ValidName(name) {
		return respondError(c, h.logger, services.Validation("INVALID_FILENAME", "Invalid filename"))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), mediaTimeout)
	defer cancel()

	rc, obj, err := h.media.Open(ctx, name)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return respondError(c, h.logger, services.NotFound("IMAGE_NOT_FOUND", "Image not found"))
		}
		return respondError(c, h.logger, services.Internal(err, "failed to retrieve image"))
	}
	defer rc.Close()

	c.Set(fiber.HeaderContentType, obj.ContentType)
	c.Set(fiber.HeaderContentLength, fmt.Sprintf("%d", obj.Size))
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	if obj.ETag != "" {
		c.Set(fiber.HeaderETag, obj.ETag)
	}

	buffer := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(c, rc, buffer); err != nil {
		h.logger.Error("failed to stream image",
			zap.Error(err),
			zap.String("name", name))
		return respondError(c, h.logger, services.Internal(err, "failed to stream image"))
	}
	return nil
}
